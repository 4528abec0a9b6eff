package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/streamline/gateway/internal/snapshot"
	"github.com/streamline/gateway/internal/syncstore"
)

// SnapshotSource is the SyncStore operations the snapshot coordinator
// needs: enumerate users and produce a point-in-time snapshot for one
// (spec.md SYNC §4.2, §4.4 cold-reconnect), matching
// internal/syncstore.Manager's ListUsers/Snapshot.
type SnapshotSource interface {
	ListUsers(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, userID string) (syncstore.Snapshot, error)
}

// SnapshotCoordinator periodically serializes every user's SyncStore
// snapshot to a temp file and uploads it to S3-compatible storage,
// generalizing internal/multistore's original per-namespace
// SnapshotCoordinator (which snapshotted lore SQLite files directly) to
// per-user CRDT state, which has no single on-disk file to copy and so is
// marshaled to JSON first.
type SnapshotCoordinator struct {
	source   SnapshotSource
	uploader snapshot.Uploader
	interval time.Duration
	tmpDir   string
}

// NewSnapshotCoordinator creates a coordinator that snapshots every user
// managed by source. uploader is typically an S3Uploader; a NoopUploader
// makes this coordinator a warm pre-serialization exercise only (no
// object storage configured).
func NewSnapshotCoordinator(source SnapshotSource, interval time.Duration, uploader snapshot.Uploader, tmpDir string) *SnapshotCoordinator {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &SnapshotCoordinator{source: source, uploader: uploader, interval: interval, tmpDir: tmpDir}
}

// Run starts the coordinator loop. Snapshots are generated immediately on
// start, then on each interval.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started", "component", "worker", "worker", "snapshot-coordinator")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.snapshotAllUsers(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "component", "worker", "worker", "snapshot-coordinator", "reason", "context_cancelled")
			return
		case <-ticker.C:
			c.snapshotAllUsers(ctx)
		}
	}
}

func (c *SnapshotCoordinator) snapshotAllUsers(ctx context.Context) {
	users, err := c.source.ListUsers(ctx)
	if err != nil {
		slog.Error("failed to list users for snapshot generation", "component", "worker", "worker", "snapshot-coordinator", "error", err)
		return
	}

	var succeeded, failed int
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if c.snapshotUser(ctx, userID) {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("snapshot generation cycle completed",
			"component", "worker", "worker", "snapshot-coordinator",
			"total", len(users), "succeeded", succeeded, "failed", failed)
	}
}

func (c *SnapshotCoordinator) snapshotUser(ctx context.Context, userID string) bool {
	snap, err := c.source.Snapshot(ctx, userID)
	if err != nil {
		slog.Warn("failed to build snapshot for user", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID, "error", err)
		return false
	}

	body, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("failed to marshal snapshot for user", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID, "error", err)
		return false
	}

	f, err := os.CreateTemp(c.tmpDir, "snapshot-"+userID+"-*.json")
	if err != nil {
		slog.Warn("failed to create temp file for snapshot upload", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID, "error", err)
		return false
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(body); err != nil {
		slog.Warn("failed to write snapshot temp file", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID, "error", err)
		return false
	}
	if err := f.Close(); err != nil {
		slog.Warn("failed to close snapshot temp file", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID, "error", err)
		return false
	}

	if err := c.uploader.Upload(ctx, userID, f.Name()); err != nil {
		slog.Warn("snapshot upload to S3 failed", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID, "error", err)
		return false
	}

	slog.Info("snapshot uploaded to S3", "component", "worker", "worker", "snapshot-coordinator", "user_id", userID)
	return true
}
