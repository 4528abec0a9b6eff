package platform

import (
	"sync"
)

// registry is a dynamic string-keyed lookup over the closed PlatformID
// set defined in platforms.go. It exists only for the edge spec.md §9
// calls out as still needing a polymorphic registry: webhook dispatch,
// where an inbound payload names its platform by string, and CLI/health
// introspection. Every other caller (ingest coordinator construction,
// recommendation, normalization ordering) should go through
// AllPlatformIDs/BuildAdapter directly instead of this map.
var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// Register adds an adapter to the registry, populated once at startup
// from the closed PlatformID set (cmd/gateway/adapters.go). Panics if a
// platform id is already registered — a startup-ordering bug, not a
// runtime condition to recover from.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	id := a.Platform()
	if _, exists := adapters[id]; exists {
		panic("platform adapter already registered: " + id)
	}
	adapters[id] = a
}

// Get returns the adapter for the given platform id.
func Get(platformID string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[platformID]
	return a, ok
}

// MustGet returns the adapter for platformID, panicking if none is
// registered.
func MustGet(platformID string) Adapter {
	a, ok := Get(platformID)
	if !ok {
		panic("no platform adapter for: " + platformID)
	}
	return a
}

// RegisteredPlatforms returns every registered platform id. cmd/gateway
// logs it at startup and starts one webhook worker per returned id.
func RegisteredPlatforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(adapters))
	for id := range adapters {
		out = append(out, id)
	}
	return out
}

// Reset clears the registry. Only for testing.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	adapters = make(map[string]Adapter)
}
