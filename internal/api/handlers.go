package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/broadcast"
	"github.com/streamline/gateway/internal/catalog"
	"github.com/streamline/gateway/internal/device"
	"github.com/streamline/gateway/internal/featurestore"
	"github.com/streamline/gateway/internal/integrity"
	"github.com/streamline/gateway/internal/reco"
	"github.com/streamline/gateway/internal/resolver"
	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/webhook"
)

// Handler implements the gateway's HTTP and WebSocket handlers, wiring
// together every domain service the external interfaces (spec.md §6)
// expose — the same central-hub role the teacher's Handler plays for a
// single lore store, generalized here to the gateway's whole component
// set.
type Handler struct {
	catalogStore *catalog.Store
	syncManager  *syncstore.Manager
	hub          *broadcast.Hub
	devices      *device.Registry
	reco         *reco.Service
	features     *featurestore.Service
	resolver     *resolver.Resolver

	webhookVerifier *webhook.Verifier
	webhookDedup    *webhook.Dedup
	webhookQueue    *webhook.Queue

	guard *integrity.Guard

	apiKey  string
	version string
}

// NewHandler wires a Handler from its constituent services.
func NewHandler(
	catalogStore *catalog.Store,
	syncManager *syncstore.Manager,
	hub *broadcast.Hub,
	devices *device.Registry,
	recoSvc *reco.Service,
	features *featurestore.Service,
	res *resolver.Resolver,
	webhookVerifier *webhook.Verifier,
	webhookDedup *webhook.Dedup,
	webhookQueue *webhook.Queue,
	guard *integrity.Guard,
	apiKey, version string,
) *Handler {
	return &Handler{
		catalogStore:    catalogStore,
		syncManager:     syncManager,
		hub:             hub,
		devices:         devices,
		reco:            recoSvc,
		features:        features,
		resolver:        res,
		webhookVerifier: webhookVerifier,
		webhookDedup:    webhookDedup,
		webhookQueue:    webhookQueue,
		guard:           guard,
		apiKey:          apiKey,
		version:         version,
	}
}

// HealthResponse is the minimal liveness document (spec.md §9
// supplemented feature), adapted from the teacher's types.HealthResponse.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health handles GET /api/v1/health. Unauthenticated, per the teacher's
// convention that liveness checks never require a credential.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

// StatsResponse is the extended operator document (spec.md §9
// supplemented feature: "reporting ingest/webhook/sync/reco pipeline
// health in one JSON document"), generalizing the teacher's
// types.ExtendedStats from lore-store counts to gateway subsystem counts.
type StatsResponse struct {
	Status                string    `json:"status"`
	Version               string    `json:"version"`
	GeneratedAt           time.Time `json:"generated_at"`
	ContentCount          int64     `json:"content_count"`
	EntityCount           int64     `json:"entity_count"`
	InteractionCount      int64     `json:"interaction_count"`
	DeviceCount           int64     `json:"device_count"`
	ActiveSessionCount    int64     `json:"active_session_count"`
	PendingEmbeddingCount int64     `json:"pending_embedding_count"`
	LowQualityCount       int64     `json:"low_quality_count"`
	OnlineSessionCount    int64     `json:"online_session_count"`
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.catalogStore.GetStats(r.Context())
	if err != nil {
		WriteAppError(w, r, err)
		return
	}

	resp := StatsResponse{
		Status:                "healthy",
		Version:               h.version,
		GeneratedAt:           time.Now().UTC(),
		ContentCount:          st.ContentCount,
		EntityCount:           st.EntityCount,
		InteractionCount:      st.InteractionCount,
		DeviceCount:           st.DeviceCount,
		ActiveSessionCount:    st.ActiveSessionCount,
		PendingEmbeddingCount: st.PendingEmbeddingCount,
		LowQualityCount:       st.LowQualityCount,
		OnlineSessionCount:    h.hub.Metrics().Snapshot().SessionsActive,
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads and decodes a JSON request body, wrapping a decode
// failure as an apperr.KindInvalidInput so handlers can route it through
// WriteAppError uniformly.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "malformed request body", err)
	}
	return nil
}
