// Package integrity implements the cross-cutting IntegrityGuard (spec.md
// §4.14): rate limiting keyed by (tier, endpoint, principal), per-endpoint
// circuit breaking with optional shared state for multi-instance
// coordination, webhook dedup, and auth token revocation. It generalizes
// internal/platform's per-platform keyLimiter and gobreaker wiring to the
// API surface rather than outbound platform fetches.
package integrity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamline/gateway/internal/config"
)

// limiterKey identifies one token bucket: a request tier (free/standard/
// premium), the endpoint it targets, and the calling principal (API key,
// user ID, or device ID depending on endpoint).
type limiterKey struct {
	tier      string
	endpoint  string
	principal string
}

// RateLimiter is a token bucket per (tier, endpoint, principal) (spec.md
// §4.14). Buckets are created lazily on first use and never evicted; a
// long-running gateway accumulates one bucket per distinct principal seen,
// which is the same tradeoff internal/platform's keyLimiter makes for its
// smaller per-platform key set.
type RateLimiter struct {
	mu       sync.Mutex
	tiers    map[string]config.RateTier
	limiters map[limiterKey]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter from the configured tiers (spec.md
// §4.14's config.RateLimitTiers, e.g. "free"/"standard"/"premium").
func NewRateLimiter(tiers map[string]config.RateTier) *RateLimiter {
	return &RateLimiter{
		tiers:    tiers,
		limiters: make(map[limiterKey]*rate.Limiter),
	}
}

// Allow reports whether a request from principal against endpoint, at the
// given tier, may proceed right now. Unlike internal/platform's keyLimiter,
// this never blocks: request-path rate limiting rejects immediately rather
// than queuing, since queuing here would hold an HTTP connection open.
func (l *RateLimiter) Allow(tier, endpoint, principal string) bool {
	return l.limiterFor(tier, endpoint, principal).Allow()
}

// Reserve returns the delay the caller would need to wait for a permit,
// for building a Retry-After response header without consuming a token
// when the caller only wants to report the wait.
func (l *RateLimiter) Reserve(tier, endpoint, principal string) time.Duration {
	r := l.limiterFor(tier, endpoint, principal).Reserve()
	if !r.OK() {
		return 0
	}
	delay := r.Delay()
	r.Cancel()
	return delay
}

func (l *RateLimiter) limiterFor(tier, endpoint, principal string) *rate.Limiter {
	key := limiterKey{tier: tier, endpoint: endpoint, principal: principal}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	cfg := l.tiers[tier]
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
	l.limiters[key] = lim
	return lim
}
