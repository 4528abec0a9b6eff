package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamline/gateway/internal/crdt"
	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/types"
)

func registerTestDevice(t *testing.T, h *Handler, userID, deviceID string) {
	t.Helper()
	if err := h.devices.Register(context.Background(), types.Device{
		DeviceID: deviceID,
		UserID:   userID,
		Type:     "mobile",
		Platform: "ios",
	}); err != nil {
		t.Fatalf("register device: %v", err)
	}
}

func TestSyncPush_RequiresUserID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{Kind: syncstore.DeltaPositionUpdate}))
	h.SyncPush(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSyncPush_RequiresDeviceID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{Kind: syncstore.DeltaPositionUpdate}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.SyncPush(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSyncPush_RejectsUnregisteredDevice(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind:       syncstore.DeltaPositionUpdate,
			Collection: syncstore.DefaultCollection,
			Payload: syncstore.PositionPayload{
				ContentID: "content-1", PositionSeconds: 30, DurationSeconds: 120, State: crdt.PlaybackPlaying,
			},
		}))
	r = r.WithContext(WithDeviceID(WithUserID(r.Context(), "user-1"), "device-unknown"))
	h.SyncPush(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for unregistered device", w.Code)
	}
}

func TestSyncPush_AppliesPositionUpdate(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind:       syncstore.DeltaPositionUpdate,
			Collection: syncstore.DefaultCollection,
			Payload: syncstore.PositionPayload{
				ContentID: "content-1", PositionSeconds: 42, DurationSeconds: 120, State: crdt.PlaybackPlaying,
			},
		}))
	r = r.WithContext(WithDeviceID(WithUserID(r.Context(), "user-1"), "device-1"))
	h.SyncPush(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp pushResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Delta.Kind != syncstore.DeltaPositionUpdate {
		t.Errorf("delta kind = %v, want position_update", resp.Delta.Kind)
	}
	if resp.Delta.Sequence == 0 {
		t.Errorf("expected a nonzero sequence, got 0")
	}
}

func TestSyncPush_DefaultsCollection(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind: syncstore.DeltaWatchlistAdd,
			Payload: syncstore.WatchlistAddPayload{
				Tag: crdt.Tag("queued"), Item: "content-2",
			},
		}))
	r = r.WithContext(WithDeviceID(WithUserID(r.Context(), "user-1"), "device-1"))
	h.SyncPush(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp pushResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Delta.Collection != syncstore.DefaultCollection {
		t.Errorf("collection = %q, want default %q", resp.Delta.Collection, syncstore.DefaultCollection)
	}
}

func TestSyncPush_RejectsUnknownKind(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind:       syncstore.DeltaKind("not_a_real_kind"),
			Collection: syncstore.DefaultCollection,
			Payload:    map[string]any{},
		}))
	r = r.WithContext(WithDeviceID(WithUserID(r.Context(), "user-1"), "device-1"))
	h.SyncPush(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown kind", w.Code)
	}
}

func TestSyncPush_RejectsPositionUpdateMissingContentID(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind:       syncstore.DeltaPositionUpdate,
			Collection: syncstore.DefaultCollection,
			Payload:    syncstore.PositionPayload{PositionSeconds: 10, DurationSeconds: 100},
		}))
	r = r.WithContext(WithDeviceID(WithUserID(r.Context(), "user-1"), "device-1"))
	h.SyncPush(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing content_id", w.Code)
	}
}

func TestSyncSnapshot_RequiresUserID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sync/snapshot", nil)
	h.SyncSnapshot(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSyncSnapshot_ReflectsAppliedDeltas(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")
	pushW := httptest.NewRecorder()
	pushR := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind: syncstore.DeltaPositionUpdate, Collection: syncstore.DefaultCollection,
			Payload: syncstore.PositionPayload{ContentID: "content-1", PositionSeconds: 10, DurationSeconds: 100, State: crdt.PlaybackPlaying},
		}))
	pushR = pushR.WithContext(WithDeviceID(WithUserID(pushR.Context(), "user-1"), "device-1"))
	h.SyncPush(pushW, pushR)
	if pushW.Code != http.StatusOK {
		t.Fatalf("setup push failed: %d %s", pushW.Code, pushW.Body.String())
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sync/snapshot", nil)
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.SyncSnapshot(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snap syncstore.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := snap.Positions["content-1"]; !ok {
		t.Errorf("expected content-1 in snapshot positions, got %+v", snap.Positions)
	}
}

func TestSyncDelta_RequiresUserID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sync/delta", nil)
	h.SyncDelta(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSyncDelta_RejectsMalformedAfterParam(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sync/delta?after=not-a-number", nil)
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.SyncDelta(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed after param", w.Code)
	}
}

func TestSyncDelta_ReturnsAppliedDeltasAfterSequence(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")
	pushW := httptest.NewRecorder()
	pushR := httptest.NewRequest(http.MethodPost, "/api/v1/sync/push",
		newJSONBody(t, pushRequest{
			Kind: syncstore.DeltaPositionUpdate, Collection: syncstore.DefaultCollection,
			Payload: syncstore.PositionPayload{ContentID: "content-1", PositionSeconds: 5, DurationSeconds: 100, State: crdt.PlaybackPlaying},
		}))
	pushR = pushR.WithContext(WithDeviceID(WithUserID(pushR.Context(), "user-1"), "device-1"))
	h.SyncPush(pushW, pushR)
	if pushW.Code != http.StatusOK {
		t.Fatalf("setup push failed: %d %s", pushW.Code, pushW.Body.String())
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sync/delta?after=0&limit=10", nil)
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.SyncDelta(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp deltasResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Deltas) != 1 {
		t.Fatalf("deltas = %d, want 1", len(resp.Deltas))
	}
}
