package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/platform"
	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/internal/validation"
	"github.com/streamline/gateway/internal/webhook"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

type webhookAcceptedResponse struct {
	EventID   int64  `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
	Hash      string `json:"content_hash"`
}

// ReceiveWebhook handles POST /webhooks/{platform} (spec.md §4.8, §6).
// Unknown platforms are rejected before signature verification, since
// internal/webhook.Verifier only distinguishes "no secret configured" from
// "platform doesn't exist" by accident — both would otherwise surface as
// 401, but an unregistered platform must be a 404.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	platformID := chi.URLParam(r, "platform")
	if _, ok := platform.Get(platformID); !ok {
		WriteProblem(w, r, http.StatusNotFound, "unknown platform "+platformID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		WriteAppError(w, r, apperr.Wrap(apperr.KindInvalidInput, "failed to read webhook body", err))
		return
	}
	if len(body) > maxWebhookBodyBytes {
		WriteAppError(w, r, apperr.New(apperr.KindInvalidInput, "webhook payload too large"))
		return
	}

	evt := types.WebhookEvent{
		Platform:  platformID,
		EventType: r.Header.Get("X-Event-Type"),
		Timestamp: time.Now().UTC(),
		Payload:   body,
		Signature: extractWebhookSignature(r),
	}

	duplicate, hash, err := webhook.Receive(r.Context(), h.webhookVerifier, h.webhookDedup, evt)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}

	// Shape validation runs only after the signature is trusted: an
	// unsigned or badly-signed request must fail as a signature problem,
	// never leak a 400 that would help an attacker probe the payload
	// contract.
	if errs := validation.ValidateWebhookEvent(evt); len(errs) > 0 {
		WriteProblem(w, r, http.StatusBadRequest, "invalid webhook event: "+errs[0].Message)
		return
	}

	var eventID int64
	if !duplicate {
		eventID, err = h.webhookQueue.Enqueue(r.Context(), platformID, evt.EventType, body, hash, evt.Timestamp)
		if err != nil {
			WriteAppError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, webhookAcceptedResponse{
		EventID:   eventID,
		Duplicate: duplicate,
		Hash:      hash,
	})
}

// extractWebhookSignature reads the hex HMAC digest out of the
// "X-Webhook-Signature: sha256=<hex>" header (spec.md §6), tolerating a
// bare hex digest with no scheme prefix.
func extractWebhookSignature(r *http.Request) string {
	const prefix = "sha256="
	raw := r.Header.Get("X-Webhook-Signature")
	if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
		return raw[len(prefix):]
	}
	return raw
}
