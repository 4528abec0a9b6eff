package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/streamline/gateway/internal/broadcast"
)

// upgrader accepts the real-time session's WebSocket handshake (spec.md
// §6 "real-time session (bidirectional)"). Origin checking is left to the
// caller's reverse proxy / CORS layer, matching how the rest of this
// package leaves TLS termination to its front door; CheckOrigin always
// returning true also accepts cross-origin browser handshakes, which
// gorilla/websocket's default check rejects (handshakes with no Origin
// header are accepted either way).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session handles GET /api/v1/session (spec.md §6), upgrading to a
// WebSocket and registering it with the broadcast hub for the lifetime of
// the connection. UserContextMiddleware has already populated the caller's
// identity by the time this handler runs.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", userID, "device_id", deviceID, "error", err)
		return
	}

	broadcast.NewSession(h.hub, conn, userID, deviceID, h.syncManager.ApplyLocal)
}
