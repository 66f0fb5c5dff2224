package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
)

const (
	defaultVelocityInterval = 30 * time.Second
	// firstDonationSentinel is reported as seconds-since-last when an actor has no history.
	firstDonationSentinel int64 = 999999
)

var ErrVelocityLimited = errors.New("donations are arriving too quickly")

// VelocityError carries how long the caller must wait before retrying.
type VelocityError struct {
	RetryAfterSeconds int
}

func (e *VelocityError) Error() string {
	return fmt.Sprintf("%s: retry after %d seconds", ErrVelocityLimited, e.RetryAfterSeconds)
}

func (e *VelocityError) Is(target error) bool {
	return target == ErrVelocityLimited
}

// LastDonationLookup is the authoritative source of an actor's latest donation time.
type LastDonationLookup interface {
	LastDonationAt(ctx context.Context, key domain.ActorKey) (*time.Time, error)
}

// LastDonationCache is an optional shared fast path in front of the lookup.
// A miss is reported as (nil, nil).
type LastDonationCache interface {
	LastDonationAt(ctx context.Context, key domain.ActorKey) (*time.Time, error)
	RememberDonation(ctx context.Context, key domain.ActorKey, at time.Time) error
}

// VelocityDecision is the outcome of a velocity check.
type VelocityDecision struct {
	Allowed           bool
	RetryAfterSeconds int
	SecondsSinceLast  int64
}

// VelocityGuard enforces a minimum interval between two donations by the same actor.
type VelocityGuard struct {
	lookup      LastDonationLookup
	cache       LastDonationCache
	minInterval time.Duration
}

func NewVelocityGuard(lookup LastDonationLookup, cache LastDonationCache, minInterval time.Duration) *VelocityGuard {
	if minInterval <= 0 {
		minInterval = defaultVelocityInterval
	}
	return &VelocityGuard{lookup: lookup, cache: cache, minInterval: minInterval}
}

// Check consults the cache first and falls back to the database. Cache errors are
// logged and never block a donation.
func (g *VelocityGuard) Check(ctx context.Context, key domain.ActorKey, now time.Time) (VelocityDecision, error) {
	if key.IsZero() {
		return VelocityDecision{Allowed: true, SecondsSinceLast: firstDonationSentinel}, nil
	}

	if g.cache != nil {
		cached, err := g.cache.LastDonationAt(ctx, key)
		if err != nil {
			log.Printf("level=warn component=velocity_guard msg=\"cache lookup failed; using database\" actor=%s err=%v", key, err)
		} else if cached != nil {
			if decision := g.decide(*cached, now); !decision.Allowed {
				return decision, nil
			}
		}
	}

	last, err := g.lookup.LastDonationAt(ctx, key)
	if err != nil {
		return VelocityDecision{}, fmt.Errorf("last donation lookup: %w", err)
	}
	if last == nil {
		return VelocityDecision{Allowed: true, SecondsSinceLast: firstDonationSentinel}, nil
	}
	return g.decide(*last, now), nil
}

func (g *VelocityGuard) decide(last, now time.Time) VelocityDecision {
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	decision := VelocityDecision{Allowed: true, SecondsSinceLast: int64(elapsed / time.Second)}
	if elapsed < g.minInterval {
		decision.Allowed = false
		decision.RetryAfterSeconds = int(math.Ceil((g.minInterval - elapsed).Seconds()))
		if decision.RetryAfterSeconds < 1 {
			decision.RetryAfterSeconds = 1
		}
	}
	return decision
}

// Remember records a just-persisted donation in the shared cache.
func (g *VelocityGuard) Remember(ctx context.Context, key domain.ActorKey, at time.Time) {
	if g.cache == nil || key.IsZero() {
		return
	}
	if err := g.cache.RememberDonation(ctx, key, at); err != nil {
		log.Printf("level=warn component=velocity_guard msg=\"cache update failed\" actor=%s err=%v", key, err)
	}
}
