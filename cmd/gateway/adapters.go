package main

import (
	"log/slog"
	"net/http"

	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/platform"
)

// registerPlatformAdapters builds one platform.Adapter per platform in
// the closed PlatformID set (internal/platform.AllPlatformIDs) that has
// a config entry, registers each into the edge dispatch registry
// (internal/platform/registry.go — webhook routing needs a string-keyed
// lookup), and returns the built adapters directly so callers that need
// the whole set, like the ingest coordinator, don't round-trip through
// that registry themselves.
func registerPlatformAdapters(cfg map[string]config.PlatformConfig, client *http.Client) []platform.Adapter {
	out := make([]platform.Adapter, 0, len(platform.AllPlatformIDs()))
	for _, id := range platform.AllPlatformIDs() {
		pc, ok := cfg[string(id)]
		if !ok {
			slog.Warn("no configuration for known platform, skipping", "platform", id)
			continue
		}
		adapter := platform.BuildAdapter(id, pc, client)
		platform.Register(adapter)
		out = append(out, adapter)
	}
	return out
}

func defaultHTTPClient() *http.Client {
	return platform.DefaultHTTPClient()
}
