package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/streamline/gateway/internal/broadcast"
	"github.com/streamline/gateway/internal/catalog"
	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/device"
	"github.com/streamline/gateway/internal/featurestore"
	"github.com/streamline/gateway/internal/hlc"
	"github.com/streamline/gateway/internal/integrity"
	"github.com/streamline/gateway/internal/reco"
	"github.com/streamline/gateway/internal/reco/blend"
	"github.com/streamline/gateway/internal/resolver"
	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/webhook"
	"github.com/streamline/gateway/pkg/ann"
)

const testAPIKeyHarness = "test-gateway-key"

// fakeRevocationStore is a no-op RevocationStore: none of the handler
// tests exercise token revocation, only the rate-limit and webhook paths
// integrity.Guard also composes.
type fakeRevocationStore struct{}

func (fakeRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return nil
}
func (fakeRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return false, nil
}

// newTestHandler wires a full Handler from real, in-memory/temp-dir
// components, the same shape cmd/gateway's root.go wires in production,
// scaled down (no real platform adapters, an unlimited rate tier) so
// handler tests exercise real persistence and domain logic rather than
// mocks.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	catalogStore, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { catalogStore.Close() })

	hub := broadcast.NewHub()

	syncManager, err := syncstore.NewManager(t.TempDir(), hlc.WallClockMillis, nil)
	if err != nil {
		t.Fatalf("open sync manager: %v", err)
	}
	t.Cleanup(func() { syncManager.Close() })

	devices := device.NewRegistry(syncManager, hub, nil)

	embeddingOf := func(contentID string) ([]float32, bool) {
		return catalogStore.EmbeddingOf(context.Background(), contentID)
	}
	features := featurestore.New(catalogStore, embeddingOf, 0.95, 30*24*time.Hour, 0.3)
	res := resolver.New(catalogStore, 1024)

	index := ann.New()
	blender := blend.New(config.BlenderConfig{
		Weights: config.BlenderWeights{
			Collaborative: 0.35,
			Content:       0.25,
			Graph:         0.30,
			Context:       0.10,
		},
		MMRLambda:          0.7,
		TTLDefault:         config.Duration(time.Hour),
		TTLContextDominant: config.Duration(10 * time.Minute),
	})
	recoSvc := reco.New(catalogStore, index, nil, blender, 30*24*time.Hour, 0.5)

	webhookVerifier := webhook.NewVerifier(map[string]string{"netflix": "test-webhook-secret"})
	webhookDedup := webhook.NewDedup(24*time.Hour, 1000)
	webhookQueue, err := webhook.OpenQueue(":memory:")
	if err != nil {
		t.Fatalf("open webhook queue: %v", err)
	}
	t.Cleanup(func() { webhookQueue.Close() })

	guard := integrity.NewGuard(
		map[string]config.RateTier{
			"standard": {RequestsPerMinute: 1_000_000, Burst: 1_000_000},
		},
		nil,
		webhookDedup,
		fakeRevocationStore{},
		nil,
	)

	return NewHandler(catalogStore, syncManager, hub, devices, recoSvc, features, res,
		webhookVerifier, webhookDedup, webhookQueue, guard, testAPIKeyHarness, "test")
}

// newJSONBody marshals v and wraps it as a request body reader.
func newJSONBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

// newJSONBodyRaw wraps an already-encoded body, for tests that need to
// control the exact bytes hashed/signed (webhook signature verification).
func newJSONBodyRaw(body []byte) io.Reader {
	return bytes.NewReader(body)
}

// setChiURLParam injects a chi URL param into r's context, the same way
// chi's router populates it when a request matches a {param} route
// segment, so handlers that read chi.URLParam can be unit-tested directly
// without going through NewRouter.
func setChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
