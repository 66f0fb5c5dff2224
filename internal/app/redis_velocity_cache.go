package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Stores ARGV[1] only when it is newer than the current value, and keeps the key
// alive for ARGV[2] milliseconds.
const rememberDonationLua = `
local current = redis.call("GET", KEYS[1])
if current == false or tonumber(current) < tonumber(ARGV[1]) then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
return 0
`

var rememberDonationScript = redis.NewScript(rememberDonationLua)

// RedisLastDonationCache shares the latest donation time per actor across instances.
type RedisLastDonationCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLastDonationCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLastDonationCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "donation:velocity"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl < time.Second {
		ttl = time.Second
	}

	return &RedisLastDonationCache{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (r *RedisLastDonationCache) key(actor domain.ActorKey) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, actor.Kind, strings.TrimSpace(actor.Value))
}

// LastDonationAt returns the cached time, or nil when the actor has no entry.
func (r *RedisLastDonationCache) LastDonationAt(ctx context.Context, actor domain.ActorKey) (*time.Time, error) {
	if r == nil || r.client == nil || actor.IsZero() {
		return nil, nil
	}
	raw, err := r.client.Get(ctx, r.key(actor)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected velocity cache value %q: %w", raw, err)
	}
	at := time.UnixMilli(ms).UTC()
	return &at, nil
}

// RememberDonation records at for the actor unless a newer time is already stored.
func (r *RedisLastDonationCache) RememberDonation(ctx context.Context, actor domain.ActorKey, at time.Time) error {
	if r == nil || r.client == nil || actor.IsZero() {
		return nil
	}
	return rememberDonationScript.Run(ctx, r.client, []string{r.key(actor)}, at.UnixMilli(), r.ttl.Milliseconds()).Err()
}
