package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamline/gateway/internal/types"
)

func TestRegisterDevice_RequiresUserID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices",
		newJSONBody(t, registerDeviceRequest{DeviceID: "device-1", Type: "mobile", Platform: "ios"}))
	h.RegisterDevice(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRegisterDevice_RequiresDeviceID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices", newJSONBody(t, registerDeviceRequest{}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.RegisterDevice(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRegisterDevice_PersistsIntoCatalog(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices", newJSONBody(t, registerDeviceRequest{
		DeviceID: "device-1", Type: "tv", Platform: "roku", Capabilities: []string{"cast", "volume"}, AppVersion: "2.1.0",
	}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.RegisterDevice(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp deviceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Device.DeviceID != "device-1" || resp.Device.UserID != "user-1" {
		t.Errorf("device = %+v, want device-1/user-1", resp.Device)
	}

	persisted, err := h.catalogStore.ListDevices(r.Context())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(persisted) != 1 || persisted[0].DeviceID != "device-1" {
		t.Fatalf("expected device-1 persisted into catalog, got %+v", persisted)
	}
}

func TestHeartbeat_UnknownDeviceReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices/unknown/heartbeat", nil)
	h.Heartbeat(w, r, "unknown")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHeartbeat_RefreshesLastSeen(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices/device-1/heartbeat", nil)
	h.Heartbeat(w, r, "device-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestListDevices_ReturnsRegisteredDevices(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")
	registerTestDevice(t, h, "user-1", "device-2")
	registerTestDevice(t, h, "user-2", "device-3")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.ListDevices(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp listDevicesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Devices) != 2 {
		t.Fatalf("devices = %d, want 2 (scoped to user-1)", len(resp.Devices))
	}
}

func TestCommand_RequiresTargetDeviceID(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices/command", newJSONBody(t, commandRequest{}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.Command(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCommand_RejectsUnknownTarget(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices/command", newJSONBody(t, commandRequest{
		TargetDeviceID: "ghost", Kind: types.CommandPlay,
	}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.Command(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCommand_RejectsCrossUserTarget(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-2", "device-2")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices/command", newJSONBody(t, commandRequest{
		TargetDeviceID: "device-2", Kind: types.CommandPlay,
	}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.Command(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestCommand_RejectsTargetWithNoLiveSession(t *testing.T) {
	h := newTestHandler(t)
	registerTestDevice(t, h, "user-1", "device-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/devices/command", newJSONBody(t, commandRequest{
		TargetDeviceID: "device-1", Kind: types.CommandPlay,
	}))
	r = r.WithContext(WithUserID(r.Context(), "user-1"))
	h.Command(w, r)

	// Device is registered (so "online" by last_seen), but no websocket
	// session is attached to the hub, so dispatch sees it as unreachable.
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (no live session)", w.Code)
	}
}
