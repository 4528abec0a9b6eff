package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/validation"
)

// pushRequest is the REST equivalent of a single apply_local call,
// generalizing the real-time session's inbound message shape
// (internal/broadcast's session handler) to a plain HTTP push for clients
// not holding a WebSocket open — apply_local is the one mutation entry
// point, whichever transport carries it (spec.md §4.3).
type pushRequest struct {
	Kind       syncstore.DeltaKind `json:"kind"`
	Collection string              `json:"collection"`
	Payload    any                 `json:"payload"`
}

type pushResponse struct {
	Delta syncstore.Delta `json:"delta"`
}

// SyncPush handles POST /api/v1/sync/push.
func (h *Handler) SyncPush(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}
	deviceID := DeviceIDFromContext(r.Context())
	if deviceID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "X-Device-ID header is required")
		return
	}

	var req pushRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteAppError(w, r, err)
		return
	}
	if req.Collection == "" {
		req.Collection = syncstore.DefaultCollection
	}

	if errs := validation.ValidatePushRequest(string(req.Kind), req.Collection); len(errs) > 0 {
		WriteProblem(w, r, http.StatusBadRequest, "invalid push request: "+errs[0].Message)
		return
	}
	if errs := validatePushPayload(req.Kind, req.Payload); len(errs) > 0 {
		WriteProblem(w, r, http.StatusBadRequest, "invalid push payload: "+errs[0].Message)
		return
	}

	delta, err := h.syncManager.ApplyLocal(r.Context(), userID, deviceID, req.Kind, req.Collection, req.Payload, nil)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pushResponse{Delta: delta})
}

// SyncSnapshot handles GET /api/v1/sync/snapshot: the full CRDT state a
// newly connecting device bootstraps from (spec.md §4.3).
func (h *Handler) SyncSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}

	snap, err := h.syncManager.Snapshot(r.Context(), userID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type deltasResponse struct {
	Deltas []syncstore.Delta `json:"deltas"`
}

// SyncDelta handles GET /api/v1/sync/delta?after=<sequence>&limit=<n>: the
// incremental catch-up feed a reconnecting device replays (spec.md §4.3).
func (h *Handler) SyncDelta(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}

	after, err := parseQueryInt64(r, "after", 0)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	limit, err := parseQueryInt64(r, "limit", 500)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}

	deltas, err := h.syncManager.DeltasSince(r.Context(), userID, after, int(limit))
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deltasResponse{Deltas: deltas})
}

// validatePushPayload re-decodes the generically-typed push payload into
// its kind's concrete shape and validates it, so a malformed payload is
// rejected with a 400 before it reaches apply_local rather than being
// persisted opaquely as whatever JSON the client sent.
func validatePushPayload(kind syncstore.DeltaKind, payload any) []validation.ValidationError {
	raw, err := json.Marshal(payload)
	if err != nil {
		return []validation.ValidationError{{Field: "payload", Message: "must be JSON-encodable"}}
	}

	switch kind {
	case syncstore.DeltaPositionUpdate:
		var p syncstore.PositionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return []validation.ValidationError{{Field: "payload", Message: "does not match position_update shape"}}
		}
		return validation.ValidatePositionPayload(p)
	case syncstore.DeltaWatchlistAdd:
		var p syncstore.WatchlistAddPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return []validation.ValidationError{{Field: "payload", Message: "does not match watchlist_add shape"}}
		}
		return validation.ValidateWatchlistAddPayload(p)
	case syncstore.DeltaWatchlistRemove:
		var p syncstore.WatchlistRemovePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return []validation.ValidationError{{Field: "payload", Message: "does not match watchlist_remove shape"}}
		}
		return validation.ValidateWatchlistRemovePayload(p)
	default:
		// Unreachable: ValidatePushRequest already rejected unknown kinds.
		return nil
	}
}

func parseQueryInt64(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid "+name+" query parameter")
	}
	return v, nil
}
