package platform

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/types"
)

// fetchResult bundles a FetchDelta call's return value for the breaker's
// generic Execute.
type fetchResult struct {
	items []types.RawItem
}

// platformGuard bundles the per-platform rate limiter, circuit breaker,
// and fallback cache behind FetchDelta.
type platformGuard struct {
	limiter *keyLimiter
	breaker *gobreaker.CircuitBreaker[fetchResult]

	mu       sync.Mutex
	lastGood []types.RawItem
	lastAt   time.Time
}

// Manager wraps every registered Adapter's FetchDelta with a per-platform
// token bucket and circuit breaker (spec.md §4.6): states Closed -> Open
// on N consecutive failures; Open -> HalfOpen after cooldown; HalfOpen
// admits <= K probes, any probe failure reverts to Open, K successes
// close it. While Open, returns a fallback cached delta if available, else
// ServiceUnavailable.
type Manager struct {
	mu     sync.RWMutex
	guards map[string]*platformGuard
	cfg    map[string]config.PlatformConfig
}

// NewManager builds a Manager with one guard per configured platform.
func NewManager(cfg map[string]config.PlatformConfig) *Manager {
	m := &Manager{
		guards: make(map[string]*platformGuard, len(cfg)),
		cfg:    cfg,
	}
	for id, pc := range cfg {
		m.guards[id] = newGuard(id, pc)
	}
	return m
}

func newGuard(platformID string, pc config.PlatformConfig) *platformGuard {
	threshold := uint32(pc.Breaker.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	probes := uint32(pc.Breaker.HalfOpenProbes)
	if probes == 0 {
		probes = 1
	}
	cooldown := time.Duration(pc.Breaker.Cooldown)
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        platformID,
		MaxRequests: probes,
		Interval:    0, // never reset Closed-state counts on a timer; only consecutive failures matter
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("platform: circuit breaker state change", "platform", name, "from", from.String(), "to", to.String())
		},
	}

	return &platformGuard{
		limiter: newKeyLimiter(pc.RateLimit),
		breaker: gobreaker.NewCircuitBreaker[fetchResult](settings),
	}
}

// FetchDelta runs adapter.FetchDelta through platform's rate limiter and
// circuit breaker, using the last successful result as a fallback while
// the breaker is open.
func (m *Manager) FetchDelta(ctx context.Context, adapter Adapter, since time.Time, region string) ([]types.RawItem, error) {
	platformID := adapter.Platform()

	m.mu.RLock()
	g, ok := m.guards[platformID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindInvalidInput, "no rate/breaker config for platform "+platformID)
	}

	if _, err := g.limiter.acquire(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "rate limit wait canceled", err)
	}

	result, err := g.breaker.Execute(func() (fetchResult, error) {
		items, err := adapter.FetchDelta(ctx, since, region)
		if err != nil {
			return fetchResult{}, err
		}
		return fetchResult{items: items}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			g.mu.Lock()
			fallback, hasFallback := g.lastGood, !g.lastAt.IsZero()
			g.mu.Unlock()
			if hasFallback {
				slog.Warn("platform: circuit open, serving cached delta", "platform", platformID)
				return fallback, nil
			}
			return nil, apperr.New(apperr.KindCircuitOpen, "platform unavailable: "+platformID).WithCode("service_unavailable")
		}
		return nil, apperr.Wrap(apperr.KindDependencyFailure, "fetch_delta failed for "+platformID, err)
	}

	g.mu.Lock()
	g.lastGood = result.items
	g.lastAt = time.Now()
	g.mu.Unlock()

	return result.items, nil
}
