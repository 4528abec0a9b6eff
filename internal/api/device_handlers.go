package api

import (
	"net/http"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/types"
)

// registerDeviceRequest is the wire shape for POST /api/v1/devices.
type registerDeviceRequest struct {
	DeviceID     string   `json:"device_id"`
	Type         string   `json:"type"`
	Platform     string   `json:"platform"`
	Capabilities []string `json:"capabilities"`
	AppVersion   string   `json:"app_version"`
	Name         string   `json:"name,omitempty"`
}

type deviceResponse struct {
	Device types.Device `json:"device"`
}

// RegisterDevice handles POST /api/v1/devices (spec.md §4.5). The device
// is registered against the live in-memory device.Registry and mirrored
// into catalog storage so a restart rehydrates registrations, the same
// dual-write shape the teacher's store registration used for its
// in-memory multistore.StoreManager plus on-disk persistence.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}

	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteAppError(w, r, err)
		return
	}
	if req.DeviceID == "" {
		WriteAppError(w, r, apperr.New(apperr.KindInvalidInput, "device_id is required"))
		return
	}

	d := types.Device{
		DeviceID:     req.DeviceID,
		UserID:       userID,
		Type:         req.Type,
		Platform:     req.Platform,
		Capabilities: req.Capabilities,
		AppVersion:   req.AppVersion,
		Name:         req.Name,
	}

	if err := h.devices.Register(r.Context(), d); err != nil {
		WriteAppError(w, r, err)
		return
	}
	registered, err := h.devices.Get(req.DeviceID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	if err := h.catalogStore.UpsertDevice(r.Context(), registered); err != nil {
		WriteAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deviceResponse{Device: registered})
}

// Heartbeat handles POST /api/v1/devices/{device_id}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request, deviceID string) {
	if err := h.devices.Heartbeat(deviceID); err != nil {
		WriteAppError(w, r, err)
		return
	}
	d, err := h.devices.Get(deviceID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	if err := h.catalogStore.UpsertDevice(r.Context(), d); err != nil {
		WriteAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{Device: d})
}

type listDevicesResponse struct {
	Devices []types.Device `json:"devices"`
}

// ListDevices handles GET /api/v1/devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}
	writeJSON(w, http.StatusOK, listDevicesResponse{Devices: h.devices.ListForUser(userID)})
}

// commandRequest is the wire shape for POST /api/v1/devices/command.
type commandRequest struct {
	TargetDeviceID string          `json:"target_device_id"`
	Kind           types.CommandKind `json:"kind"`
	SeekPosition   float64         `json:"seek_position,omitempty"`
	VolumeLevel    float64         `json:"volume_level,omitempty"`
	ContentID      string          `json:"content_id,omitempty"`
	StartPosition  float64         `json:"start_position,omitempty"`
	CastTargetID   string          `json:"cast_target_id,omitempty"`
	TTLSeconds     int             `json:"ttl_seconds,omitempty"`
}

// Command handles POST /api/v1/devices/command, dispatching a control
// instruction (play/pause/seek/volume/load_content/cast_to) from one of
// the caller's devices to another (spec.md §4.5).
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}

	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteAppError(w, r, err)
		return
	}
	if req.TargetDeviceID == "" {
		WriteAppError(w, r, apperr.New(apperr.KindInvalidInput, "target_device_id is required"))
		return
	}

	ttl := types.DefaultCommandTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	now := time.Now()
	cmd := types.Command{
		TargetDeviceID: req.TargetDeviceID,
		Kind:           req.Kind,
		SeekPosition:   req.SeekPosition,
		VolumeLevel:    req.VolumeLevel,
		ContentID:      req.ContentID,
		StartPosition:  req.StartPosition,
		CastTargetID:   req.CastTargetID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}

	if err := h.devices.Command(r.Context(), userID, cmd); err != nil {
		WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
