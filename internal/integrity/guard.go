package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/config"
)

// Deduper is the subset of internal/webhook.Dedup the guard depends on,
// narrowed to an interface so callers outside the webhook package don't
// need its full pipeline.
type Deduper interface {
	CheckAndMark(hash string) (duplicate bool)
}

// Guard composes the four cross-cutting concerns spec.md §4.14 groups
// together: rate limiting, circuit breaking, webhook dedup, and auth token
// revocation. Request-path code depends on Guard rather than wiring each
// concern separately.
type Guard struct {
	Limiter    *RateLimiter
	Breakers   *BreakerRegistry
	Dedup      Deduper
	Revocation *TokenRevocationList
}

// NewGuard wires a Guard from configured rate tiers and breaker defs, an
// already-built webhook Deduper (internal/webhook.NewDedup), and a token
// RevocationStore. shared may be nil for single-instance deployments.
func NewGuard(tiers map[string]config.RateTier, breakers map[string]BreakerConfig, dedup Deduper, revocationStore RevocationStore, shared SharedBreakerState) *Guard {
	registry := NewBreakerRegistry(shared)
	for name, cfg := range breakers {
		registry.Register(name, cfg)
	}
	return &Guard{
		Limiter:    NewRateLimiter(tiers),
		Breakers:   registry,
		Dedup:      dedup,
		Revocation: NewTokenRevocationList(revocationStore, 0, 0),
	}
}

// CheckRateLimit rejects with apperr.KindRateLimited when the (tier,
// endpoint, principal) bucket has no tokens left.
func (g *Guard) CheckRateLimit(tier, endpoint, principal string) error {
	if g.Limiter.Allow(tier, endpoint, principal) {
		return nil
	}
	retryAfter := g.Limiter.Reserve(tier, endpoint, principal)
	return apperr.New(apperr.KindRateLimited, fmt.Sprintf("rate limit exceeded, retry after %ds", int(retryAfter/time.Second)))
}

// CheckWebhookDuplicate reports whether a webhook payload's content hash
// has already been processed, composing internal/webhook's dedup cache
// under the guard's single entry point.
func (g *Guard) CheckWebhookDuplicate(hash string) bool {
	return g.Dedup.CheckAndMark(hash)
}

// CheckTokenRevoked rejects with apperr.KindUnauthorized when tokenID has
// been revoked.
func (g *Guard) CheckTokenRevoked(ctx context.Context, tokenID string) error {
	revoked, err := g.Revocation.IsRevoked(ctx, tokenID)
	if err != nil {
		return err
	}
	if revoked {
		return apperr.New(apperr.KindUnauthorized, "token revoked").WithCode("token_revoked")
	}
	return nil
}

// Call runs fn through name's circuit breaker (spec.md §4.14).
func (g *Guard) Call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	return g.Breakers.Execute(ctx, name, fn)
}
