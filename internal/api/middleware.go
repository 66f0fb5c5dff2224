/**
 * @description
 * Authentication middleware for the HTTP router. Bearer tokens are RS256 JWTs signed by
 * the identity provider; the verification keys come from its JWKS endpoint and are cached
 * per key id.
 *
 * @notes
 * - Guest-capable routes use OptionalAuth: a missing header passes through anonymously,
 *   a malformed or invalid token is still rejected.
 * - The admin role is read from the `role` claim, or from `metadata.role` /
 *   `public_metadata.role` when the provider nests it.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const authIdentityKey contextKey = "authIdentity"

const jwksCacheTTL = 10 * time.Minute

var errMissingBearer = errors.New("authorization header required")

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	Subject string
	IsAdmin bool
}

// AuthConfig configures token verification.
type AuthConfig struct {
	JWKSURL   string
	Audience  string
	Issuer    string
	AdminRole string
}

// Authenticator verifies bearer tokens against a JWKS endpoint.
type Authenticator struct {
	cfg     AuthConfig
	keys    *jwksCache
	keyfunc jwt.Keyfunc
}

// NewAuthenticator creates an Authenticator. AdminRole defaults to "admin".
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if strings.TrimSpace(cfg.AdminRole) == "" {
		cfg.AdminRole = "admin"
	}
	a := &Authenticator{
		cfg:  cfg,
		keys: &jwksCache{url: cfg.JWKSURL, client: &http.Client{Timeout: 10 * time.Second}, keys: make(map[string]*rsa.PublicKey)},
	}
	a.keyfunc = a.lookupKey
	return a
}

func (a *Authenticator) lookupKey(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("kid not found in token header")
	}
	return a.keys.key(kid)
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingBearer
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}), jwt.WithExpirationRequired()}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, a.keyfunc, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("subject not found in token")
	}
	return &Identity{Subject: subject, IsAdmin: hasRole(claims, a.cfg.AdminRole)}, nil
}

func hasRole(claims jwt.MapClaims, role string) bool {
	if matchesRole(claims["role"], role) {
		return true
	}
	for _, nested := range []string{"metadata", "public_metadata"} {
		if m, ok := claims[nested].(map[string]interface{}); ok && matchesRole(m["role"], role) {
			return true
		}
	}
	return false
}

func matchesRole(value interface{}, role string) bool {
	switch v := value.(type) {
	case string:
		return strings.EqualFold(v, role)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, role) {
				return true
			}
		}
	}
	return false
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.authenticate(r)
		if err != nil {
			log.Printf("level=warn component=auth msg=\"token rejected\" path=%s err=%v", r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "Invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// OptionalAuth attaches the caller's identity when a bearer token is present.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.authenticate(r)
		switch {
		case errors.Is(err, errMissingBearer):
			next.ServeHTTP(w, r)
		case err != nil:
			log.Printf("level=warn component=auth msg=\"token rejected\" path=%s err=%v", r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "Invalid token")
		default:
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		}
	})
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || !identity.IsAdmin {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, authIdentityKey, identity)
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(authIdentityKey).(*Identity)
	return identity, ok && identity != nil
}

// jwksCache holds the provider's RSA keys, refetching on an unknown kid or after the TTL.
type jwksCache struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < jwksCacheTTL {
		return key, nil
	}
	if err := c.refreshLocked(); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (c *jwksCache) refreshLocked() error {
	if c.url == "" {
		return fmt.Errorf("jwks url is not configured")
	}
	resp, err := c.client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			log.Printf("level=warn component=auth msg=\"skipping unparsable jwk\" kid=%s err=%v", k.Kid, err)
			continue
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey parses an RSA public key from its base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 4 {
		return nil, fmt.Errorf("invalid rsa key parameters")
	}

	var exp int
	for _, b := range eb {
		exp = exp<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}
