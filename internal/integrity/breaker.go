package integrity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/streamline/gateway/internal/apperr"
)

// BreakerConfig parameterizes one endpoint's or service's circuit breaker,
// the same knobs internal/platform.PlatformBreaker exposes for outbound
// platform adapters, generalized to any named dependency.
type BreakerConfig struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	HalfOpenProbes   uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = 1
	}
	return c
}

// SharedBreakerState lets multiple gateway instances coordinate breaker
// trips through a shared store (spec.md §4.14: "A breaker may optionally
// share state via a shared store for multi-instance coordination;
// semantics unchanged."). When set, every local state change is published
// through PublishState. Execute does not call ReadState, so a trip
// published by one instance does not short-circuit calls on another; each
// instance still trips on its own failures.
type SharedBreakerState interface {
	PublishState(ctx context.Context, name string, state gobreaker.State) error
	ReadState(ctx context.Context, name string) (gobreaker.State, bool, error)
}

// endpointBreaker bundles one named circuit breaker with its backing
// config, mirroring internal/platform's platformGuard but keyed by
// arbitrary endpoint/service name rather than platform ID.
type endpointBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker[any]
}

// BreakerRegistry owns one gobreaker.CircuitBreaker per named dependency
// (an outbound service, a downstream endpoint), generalizing
// internal/platform.Manager's single-purpose per-platform breaker map to
// any cross-cutting call site.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*endpointBreaker
	shared   SharedBreakerState
}

// NewBreakerRegistry builds an empty registry. shared may be nil, in which
// case each instance's breakers trip independently (single-instance
// semantics, unchanged per spec.md §4.14).
func NewBreakerRegistry(shared SharedBreakerState) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*endpointBreaker),
		shared:   shared,
	}
}

// Register installs (or replaces) the breaker for name with the given
// config. Call once per dependency at startup.
func (r *BreakerRegistry) Register(name string, cfg BreakerConfig) {
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(bName string, from, to gobreaker.State) {
			slog.Warn("integrity: circuit breaker state change", "name", bName, "from", from.String(), "to", to.String())
			if r.shared != nil {
				if err := r.shared.PublishState(context.Background(), bName, to); err != nil {
					slog.Error("integrity: failed to publish breaker state", "name", bName, "err", err)
				}
			}
		},
	}

	r.mu.Lock()
	r.breakers[name] = &endpointBreaker{name: name, breaker: gobreaker.NewCircuitBreaker[any](settings)}
	r.mu.Unlock()
}

// Execute runs fn through name's local breaker. Shared state is not
// consulted: a breaker reported open on another instance does not stop
// this instance's calls while its own breaker is Closed.
func (r *BreakerRegistry) Execute(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindInvalidInput, "no circuit breaker registered for "+name)
	}

	result, err := b.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.New(apperr.KindCircuitOpen, "circuit open: "+name).WithCode("service_unavailable")
		}
		return nil, apperr.Wrap(apperr.KindDependencyFailure, "call failed for "+name, err)
	}
	return result, nil
}

// State reports name's current local breaker state.
func (r *BreakerRegistry) State(name string) (gobreaker.State, bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.breaker.State(), true
}
