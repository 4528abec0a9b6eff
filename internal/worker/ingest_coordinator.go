package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamline/gateway/internal/platform"
	"github.com/streamline/gateway/internal/resolver"
	"github.com/streamline/gateway/internal/types"
)

// PlatformFetcher is the rate-limited, circuit-broken entry point every
// FetchDelta call must go through, matching internal/platform.Manager's
// FetchDelta wrapper (spec.md §4.6).
type PlatformFetcher interface {
	FetchDelta(ctx context.Context, adapter platform.Adapter, since time.Time, region string) ([]types.RawItem, error)
}

// EntityResolver resolves a normalized content item to its entity_id,
// matching internal/resolver.Resolver.Resolve.
type EntityResolver interface {
	Resolve(ctx context.Context, in resolver.Input) (types.EntityMapping, error)
}

// IngestStore is the catalog write path the ingest worker needs.
type IngestStore interface {
	UpsertContent(ctx context.Context, c types.Content) error
}

// IngestCoordinator periodically polls every registered platform adapter
// for its change feed, resolves each item to a canonical entity_id, and
// upserts it into the catalog (spec.md §4.6 "poll platforms on an
// interval, normalize, resolve, store"). Shaped like EmbeddingCoordinator:
// a ticker loop with an immediate first run, one cycle fanning out per
// platform and logging failures without aborting the other platforms'
// cycles, the way internal/platform.Manager isolates one platform's
// circuit breaker from another's.
type IngestCoordinator struct {
	adapters []platform.Adapter
	fetcher  PlatformFetcher
	resolver EntityResolver
	store    IngestStore
	interval time.Duration
	regions  []string

	mu    sync.Mutex
	since map[string]time.Time // platform id -> last successful fetch cursor
}

// NewIngestCoordinator builds a coordinator that polls adapters (one per
// configured platform) through fetcher, every interval, across regions.
func NewIngestCoordinator(adapters []platform.Adapter, fetcher PlatformFetcher, res EntityResolver, store IngestStore, interval time.Duration, regions []string) *IngestCoordinator {
	if len(regions) == 0 {
		regions = []string{"us"}
	}
	return &IngestCoordinator{
		adapters: adapters,
		fetcher:  fetcher,
		resolver: res,
		store:    store,
		interval: interval,
		regions:  regions,
		since:    make(map[string]time.Time),
	}
}

// Run starts the coordinator loop.
func (c *IngestCoordinator) Run(ctx context.Context) {
	slog.Info("worker started", "component", "worker", "worker", "ingest-coordinator", "interval", c.interval.String(), "platforms", len(c.adapters), "regions", c.regions)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "component", "worker", "worker", "ingest-coordinator", "reason", "context_cancelled")
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

func (c *IngestCoordinator) runCycle(ctx context.Context) {
	for _, adapter := range c.adapters {
		if ctx.Err() != nil {
			return
		}
		c.pollPlatform(ctx, adapter)
	}
}

// IngestRawItem normalizes raw through adapter, resolves its entity_id,
// and upserts the result into store (spec.md §4.6 -> §4.7 -> catalog
// write, the same three-step pipeline both the poll-based
// IngestCoordinator and the webhook drain pipeline (internal/webhook.Worker's
// Handler, wired in cmd/gateway) need applied to one item at a time).
func IngestRawItem(ctx context.Context, adapter platform.Adapter, res EntityResolver, store IngestStore, raw types.RawItem) error {
	content, err := adapter.Normalize(ctx, raw)
	if err != nil {
		return err
	}

	mapping, err := res.Resolve(ctx, resolver.Input{
		ExternalIDs: content.ExternalIDs,
		Title:       content.Title,
		ReleaseYear: content.ReleaseYear,
	})
	if err != nil {
		return err
	}
	content.EntityID = mapping.EntityID

	return store.UpsertContent(ctx, content)
}

func (c *IngestCoordinator) pollPlatform(ctx context.Context, adapter platform.Adapter) {
	platformID := adapter.Platform()

	c.mu.Lock()
	since, seen := c.since[platformID]
	c.mu.Unlock()
	if !seen {
		since = time.Now().Add(-c.interval)
	}

	fetchedAt := time.Now()
	var total, resolved int
	for _, region := range c.regions {
		items, err := c.fetcher.FetchDelta(ctx, adapter, since, region)
		if err != nil {
			slog.Error("platform fetch failed", "component", "worker", "worker", "ingest-coordinator", "platform_id", platformID, "region", region, "error", err)
			continue
		}
		total += len(items)

		for _, raw := range items {
			if err := IngestRawItem(ctx, adapter, c.resolver, c.store, raw); err != nil {
				slog.Error("ingest item failed", "component", "worker", "worker", "ingest-coordinator", "platform_id", platformID, "error", err)
				continue
			}
			resolved++
		}
	}

	c.mu.Lock()
	c.since[platformID] = fetchedAt
	c.mu.Unlock()

	if total > 0 {
		slog.Info("ingested platform delta", "component", "worker", "worker", "ingest-coordinator", "platform_id", platformID, "items", total, "resolved", resolved)
	}
}
