package platform

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamline/gateway/internal/config"
)

// keyLimiter is a token bucket per (platform, api_key) with multi-key
// rotation (spec.md §4.6): successive Acquire calls round-robin across the
// platform's configured api keys, each with its own bucket, so one key
// being momentarily exhausted doesn't block callers that could use
// another.
type keyLimiter struct {
	mu       sync.Mutex
	keys     []string
	limiters map[string]*rate.Limiter
	next     int
}

// newKeyLimiter builds a keyLimiter from a platform's rate-limit config.
// A platform with no configured api keys gets a single anonymous bucket.
func newKeyLimiter(cfg config.PlatformRateLimit) *keyLimiter {
	keys := cfg.APIKeys
	if len(keys) == 0 {
		keys = []string{""}
	}
	window := time.Duration(cfg.Window)
	if window <= 0 {
		window = time.Minute
	}
	quota := cfg.Quota
	if quota <= 0 {
		quota = 1
	}
	every := rate.Every(window / time.Duration(quota))

	limiters := make(map[string]*rate.Limiter, len(keys))
	for _, k := range keys {
		limiters[k] = rate.NewLimiter(every, quota)
	}
	return &keyLimiter{keys: keys, limiters: limiters}
}

// acquire blocks (cooperative suspension, spec.md §4.6) until a permit is
// granted on the next key in rotation, and returns that key.
func (l *keyLimiter) acquire(ctx context.Context) (string, error) {
	l.mu.Lock()
	key := l.keys[l.next]
	l.next = (l.next + 1) % len(l.keys)
	l.mu.Unlock()

	if err := l.limiters[key].Wait(ctx); err != nil {
		return "", err
	}
	return key, nil
}
