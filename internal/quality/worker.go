package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamline/gateway/internal/types"
)

// Store is the catalog operations the periodic scoring worker needs.
type Store interface {
	ContentNeedingScore(ctx context.Context, limit int) ([]types.Content, error)
	RecordScore(ctx context.Context, entityID, platformID string, score Score) error
}

// ScoringWorker periodically recomputes quality scores across the
// catalog: the same single-catalog ticker-driven batch shape used
// throughout internal/worker's coordinators, repointed from lore
// confidence decay to content completeness/freshness scoring.
type ScoringWorker struct {
	store     Store
	scorer    *Scorer
	interval  time.Duration
	batchSize int
}

// NewScoringWorker builds a ScoringWorker.
func NewScoringWorker(store Store, scorer *Scorer, interval time.Duration, batchSize int) *ScoringWorker {
	return &ScoringWorker{store: store, scorer: scorer, interval: interval, batchSize: batchSize}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *ScoringWorker) Run(ctx context.Context) {
	slog.Info("worker started", "component", "worker", "worker", "quality-scoring", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "component", "worker", "worker", "quality-scoring", "reason", "context_cancelled")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *ScoringWorker) runCycle(ctx context.Context) {
	start := time.Now()

	items, err := w.store.ContentNeedingScore(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("quality scoring cycle failed", "component", "worker", "action", "score_failed", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	var scored, lowQuality int
	for _, c := range items {
		s := w.scorer.Score(c)
		if err := w.store.RecordScore(ctx, c.EntityID, c.PlatformID, s); err != nil {
			slog.Error("quality score record failed",
				"component", "worker", "entity_id", c.EntityID, "platform_id", c.PlatformID, "error", err)
			continue
		}
		scored++
		if s.LowQuality {
			lowQuality++
		}
	}

	slog.Info("quality scoring cycle completed",
		"component", "worker", "action", "score_complete",
		"scored", scored, "low_quality", lowQuality, "duration_ms", time.Since(start).Milliseconds())
}
