// Package platform implements PlatformAdapter (spec.md §4.6): per-platform
// ingestion with rate limiting, circuit breaking, and normalization. The
// Adapter contract and registry are adapted from the teacher's
// internal/plugin (internal/plugin/plugin.go, internal/plugin/registry.go)
// — same Register/Get/MustGet shape, generalized from "domain plugin per
// store type" to "content adapter per streaming platform".
package platform

import (
	"context"
	"time"

	"github.com/streamline/gateway/internal/types"
)

// Adapter is the per-platform contract spec.md §4.6 requires. Normalize
// and GenerateDeepLink never touch the network; only FetchDelta does, and
// every FetchDelta call made through Manager.FetchDelta is wrapped in that
// platform's rate limiter and circuit breaker.
type Adapter interface {
	// Platform returns the platform id this adapter handles (e.g.
	// "netflix"), matching a key in config.Config.Platforms.
	Platform() string

	// FetchDelta polls the platform's change feed for items touched since
	// the given time, scoped to region.
	FetchDelta(ctx context.Context, since time.Time, region string) ([]types.RawItem, error)

	// Normalize maps a RawItem into canonical content: genre mapping,
	// external ID extraction, availability, images. Never calls the
	// network.
	Normalize(ctx context.Context, raw types.RawItem) (types.Content, error)

	// GenerateDeepLink builds per-surface launch URLs for contentID.
	GenerateDeepLink(ctx context.Context, contentID string) (types.DeepLinks, error)
}
