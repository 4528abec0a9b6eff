package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamline/gateway/internal/embedding"
	"github.com/streamline/gateway/internal/types"
)

// EmbeddingStore is the catalog operations the embedding worker needs:
// find content missing an embedding, and record the outcome of a batch
// attempt. Content lives in one shared catalog (spec.md §3 Canonical
// content), unlike the teacher's per-store lore entries, so this worker
// needs no store enumerator — it is the direct generalization of
// internal/quality.ScoringWorker's single-catalog shape to embeddings.
type EmbeddingStore interface {
	ContentNeedingEmbedding(ctx context.Context, limit int) ([]types.Content, error)
	UpdateEmbedding(ctx context.Context, entityID, platformID string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, entityID, platformID string) error
}

// Embedder defines the embedding operations the worker needs, matching
// internal/embedding.Embedder's EmbedBatch method.
type Embedder interface {
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
}

// IndexSink receives a freshly computed embedding, matching
// pkg/ann.Index.Upsert. Kept an interface (rather than importing pkg/ann
// directly) so tests can substitute a recorder.
type IndexSink interface {
	Upsert(id string, embedding []float32)
}

// contentKey identifies one content record across platforms for retry
// bookkeeping, since entity_id alone is not unique per spec.md §4.7
// (multiple platform_content_ids can map to the same entity before
// resolution settles).
type contentKey struct {
	entityID   string
	platformID string
}

// EmbeddingCoordinator periodically embeds catalog content missing an
// embedding vector, retrying failed batches up to maxAttempts before
// giving up on an entry, the way the teacher's EmbeddingRetryWorker does
// for lore entries — generalized here to a single shared catalog instead
// of per-store lore, so the teacher's separate multi-store
// EmbeddingRetryCoordinator layer collapses into this one worker.
type EmbeddingCoordinator struct {
	store       EmbeddingStore
	embedder    Embedder
	interval    time.Duration
	maxAttempts int
	batchSize   int

	mu         sync.Mutex
	retryCount map[contentKey]int
	index      IndexSink
}

// SetIndex attaches the live ANN index so newly computed embeddings are
// reflected in recommendation candidate search without waiting for a
// process restart, the same late-binding shape
// internal/reco.Service.SetCollaborativeModel uses for its ALS model.
func (c *EmbeddingCoordinator) SetIndex(index IndexSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = index
}

// NewEmbeddingCoordinator builds a coordinator.
func NewEmbeddingCoordinator(store EmbeddingStore, embedder Embedder, interval time.Duration, maxAttempts, batchSize int) *EmbeddingCoordinator {
	return &EmbeddingCoordinator{
		store:       store,
		embedder:    embedder,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		retryCount:  make(map[contentKey]int),
	}
}

// Run starts the coordinator loop. Content that failed embedding during
// ingestion is processed immediately on start rather than waiting for the
// first tick, so a restart doesn't leave it stranded for a full interval.
func (c *EmbeddingCoordinator) Run(ctx context.Context) {
	slog.Info("worker started", "component", "worker", "worker", "embedding-coordinator", "interval", c.interval.String(), "max_attempts", c.maxAttempts, "batch_size", c.batchSize)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "component", "worker", "worker", "embedding-coordinator", "reason", "context_cancelled")
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

func (c *EmbeddingCoordinator) runCycle(ctx context.Context) {
	entries, err := c.store.ContentNeedingEmbedding(ctx, c.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to list content needing embedding", "component", "worker", "worker", "embedding-coordinator", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var toProcess []types.Content
	for _, content := range entries {
		key := contentKey{entityID: content.EntityID, platformID: content.PlatformID}
		c.mu.Lock()
		attempts := c.retryCount[key]
		c.mu.Unlock()

		if attempts >= c.maxAttempts {
			c.markAsFailed(ctx, key, attempts)
			continue
		}
		toProcess = append(toProcess, content)
	}

	if len(toProcess) == 0 {
		return
	}

	prompts := make([]string, len(toProcess))
	for i, content := range toProcess {
		prompts[i] = embedding.ContentPrompt(content)
	}

	embeddings, err := c.embedder.EmbedBatch(ctx, prompts)
	if err != nil {
		slog.Warn("embedding batch failed, will retry", "component", "worker", "worker", "embedding-coordinator", "error", err, "entries_count", len(toProcess))
		c.mu.Lock()
		for _, content := range toProcess {
			c.retryCount[contentKey{entityID: content.EntityID, platformID: content.PlatformID}]++
		}
		c.mu.Unlock()
		return
	}

	var successCount int
	for i, content := range toProcess {
		key := contentKey{entityID: content.EntityID, platformID: content.PlatformID}
		if err := c.store.UpdateEmbedding(ctx, content.EntityID, content.PlatformID, embeddings[i]); err != nil {
			slog.Error("failed to update embedding", "component", "worker", "worker", "embedding-coordinator", "entity_id", content.EntityID, "platform_id", content.PlatformID, "error", err)
			c.mu.Lock()
			c.retryCount[key]++
			c.mu.Unlock()
			continue
		}
		c.mu.Lock()
		delete(c.retryCount, key)
		index := c.index
		c.mu.Unlock()
		if index != nil {
			index.Upsert(content.EntityID, embeddings[i])
		}
		successCount++
	}

	if successCount > 0 {
		slog.Info("processed pending embeddings", "component", "worker", "worker", "embedding-coordinator", "count", successCount)
	}
}

func (c *EmbeddingCoordinator) markAsFailed(ctx context.Context, key contentKey, attempts int) {
	if err := c.store.MarkEmbeddingFailed(ctx, key.entityID, key.platformID); err != nil {
		slog.Error("failed to mark embedding as failed", "component", "worker", "worker", "embedding-coordinator", "entity_id", key.entityID, "platform_id", key.platformID, "error", err)
		return
	}

	slog.Warn("embedding permanently failed after max attempts", "component", "worker", "worker", "embedding-coordinator", "entity_id", key.entityID, "platform_id", key.platformID, "attempts", attempts)

	c.mu.Lock()
	delete(c.retryCount, key)
	c.mu.Unlock()
}
