package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamline/gateway/internal/hlc"
)

// TombstoneCompactor is the SyncStore operations the compaction
// coordinator needs: enumerate users and discard tombstones older than a
// retention horizon for one of them, matching
// internal/syncstore.Manager's ListUsers/CompactTombstones.
type TombstoneCompactor interface {
	ListUsers(ctx context.Context) ([]string, error)
	CompactTombstones(ctx context.Context, userID string, horizon hlc.Timestamp) (int64, error)
}

// CompactionCoordinator periodically discards OR-Set tombstones older than
// retention across every user, generalizing the teacher's change_log
// compaction (one SQLite file's append-only log trimmed to latest-per-entity)
// to CRDT removal tags: the thing bounding storage growth here is dead
// tombstones, not redundant row versions.
//
// Like the teacher's compaction, this waits for the first tick before
// running — compaction is IO-intensive and skipped at startup to avoid
// spiking resources at boot.
type CompactionCoordinator struct {
	source    TombstoneCompactor
	interval  time.Duration
	retention time.Duration
}

// NewCompactionCoordinator creates a coordinator that compacts every user
// managed by source, discarding tombstones older than retention.
func NewCompactionCoordinator(source TombstoneCompactor, interval, retention time.Duration) *CompactionCoordinator {
	return &CompactionCoordinator{source: source, interval: interval, retention: retention}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
func (c *CompactionCoordinator) Run(ctx context.Context) {
	slog.Info("worker started", "component", "worker", "worker", "compaction-coordinator", "interval", c.interval.String(), "retention", c.retention.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "component", "worker", "worker", "compaction-coordinator", "reason", "context_cancelled")
			return
		case <-ticker.C:
			c.compactAllUsers(ctx)
		}
	}
}

func (c *CompactionCoordinator) compactAllUsers(ctx context.Context) {
	users, err := c.source.ListUsers(ctx)
	if err != nil {
		slog.Error("failed to list users for tombstone compaction", "component", "worker", "worker", "compaction-coordinator", "error", err)
		return
	}

	horizon := hlc.Timestamp{Physical: time.Now().Add(-c.retention).UnixMilli()}

	var succeeded, failed int
	var totalDiscarded int64
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		discarded, ok := c.compactUser(ctx, userID, horizon)
		if ok {
			succeeded++
			totalDiscarded += discarded
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("tombstone compaction cycle completed",
			"component", "worker", "worker", "compaction-coordinator",
			"total", len(users), "succeeded", succeeded, "failed", failed, "tags_discarded", totalDiscarded)
	}
}

func (c *CompactionCoordinator) compactUser(ctx context.Context, userID string, horizon hlc.Timestamp) (int64, bool) {
	discarded, err := c.source.CompactTombstones(ctx, userID, horizon)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		slog.Warn("tombstone compaction failed for user", "component", "worker", "worker", "compaction-coordinator", "user_id", userID, "error", err)
		return 0, false
	}
	if discarded > 0 {
		slog.Debug("tombstones compacted for user", "component", "worker", "worker", "compaction-coordinator", "user_id", userID, "tags_discarded", discarded)
	}
	return discarded, true
}
