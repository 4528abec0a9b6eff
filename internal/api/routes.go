package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the gateway's route tree (spec.md §6): webhook
// ingress, device registry + command dispatch, sync push/pull, the
// real-time session, recommendation pulls, and operator health/stats.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	standardLimiter := NewTierRateLimiter(h.guard, "standard")
	// Webhook senders carry no X-User-ID, so TierRateLimiter's fallback key
	// (remote address) applies — one bucket per platform's sending IP.
	webhookLimiter := NewTierRateLimiter(h.guard, "standard")
	// Command dispatch has no tier of its own: a small fixed token bucket
	// bounds the blast radius of a misbehaving client hammering playback
	// control, independent of the caller's configured tier.
	commandLimiter := NewDeleteRateLimiter(50, 200*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Get("/stats", h.Stats)

			r.Group(func(r chi.Router) {
				r.Use(UserContextMiddleware)
				r.Use(standardLimiter.Middleware)

				r.Post("/sync/push", h.SyncPush)
				r.Get("/sync/snapshot", h.SyncSnapshot)
				r.Get("/sync/delta", h.SyncDelta)

				r.Post("/devices", h.RegisterDevice)
				r.Get("/devices", h.ListDevices)
				r.Post("/devices/{device_id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
					h.Heartbeat(w, r, chi.URLParam(r, "device_id"))
				})
				r.With(commandLimiter.Middleware).Post("/devices/command", h.Command)

				r.Get("/recommendations", h.GetRecommendations)
				r.Post("/interactions", h.RecordInteraction)

				r.Get("/session", h.Session)
			})
		})
	})

	r.With(webhookLimiter.Middleware).Post("/webhooks/{platform}", h.ReceiveWebhook)

	return r
}
