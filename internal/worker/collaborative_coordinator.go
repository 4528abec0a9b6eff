package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamline/gateway/internal/reco/candidates"
)

// CollaborativeModelSink is the one method internal/reco.Service exposes
// for installing a freshly fit ALS model.
type CollaborativeModelSink interface {
	SetCollaborativeModel(m *candidates.Model)
}

// CollaborativeCoordinator periodically refits the ALS collaborative
// model from the full interaction history and hands the result to the
// reco service, the same ticker-plus-immediate-first-cycle shape
// EmbeddingCoordinator uses, generalized from "embed pending content" to
// "refit one global model." Unlike EmbeddingCoordinator there is no
// per-item retry bookkeeping: a failed fit just leaves the previous
// model (or nil) in place until the next tick.
type CollaborativeCoordinator struct {
	source candidates.InteractionSource
	sink   CollaborativeModelSink
	cfg    candidates.ALSConfig

	interval time.Duration
}

// NewCollaborativeCoordinator builds a coordinator.
func NewCollaborativeCoordinator(source candidates.InteractionSource, sink CollaborativeModelSink, cfg candidates.ALSConfig, interval time.Duration) *CollaborativeCoordinator {
	return &CollaborativeCoordinator{source: source, sink: sink, cfg: cfg, interval: interval}
}

// Run starts the coordinator loop, fitting immediately on start so a
// freshly booted gateway doesn't serve zero collaborative candidates for
// a full interval.
func (c *CollaborativeCoordinator) Run(ctx context.Context) {
	slog.Info("worker started", "component", "worker", "worker", "collaborative-coordinator", "interval", c.interval.String(), "iterations", c.cfg.Iterations, "latent", c.cfg.Latent)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "component", "worker", "worker", "collaborative-coordinator", "reason", "context_cancelled")
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

func (c *CollaborativeCoordinator) runCycle(ctx context.Context) {
	start := time.Now()
	model, err := candidates.Fit(ctx, c.source, c.cfg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("als fit failed", "component", "worker", "worker", "collaborative-coordinator", "error", err)
		return
	}

	c.sink.SetCollaborativeModel(model)
	slog.Info("als model refit complete", "component", "worker", "worker", "collaborative-coordinator", "duration_ms", time.Since(start).Milliseconds())
}
