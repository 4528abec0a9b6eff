package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// WebhookDedupWindow is the time window within which two events hashing to
// the same content hash are considered duplicates (spec.md §3).
const WebhookDedupWindow = 24 * time.Hour

// WebhookEvent is a single inbound platform notification (spec.md §3,
// §4.8). Payload is kept as raw JSON so the pipeline can compute a stable
// content hash before deciding which platform-specific shape to decode it
// into.
type WebhookEvent struct {
	Platform  string          `json:"platform"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// ContentHash computes the dedup key over (platform, event_type,
// canonical(payload)) (spec.md §3). Canonicalization is delegated to the
// caller, which must pass an already-canonicalized payload (stable key
// order, no insignificant whitespace) — internal/webhook does this with
// tidwall/sjson before calling ContentHash.
func (e WebhookEvent) ContentHash(canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(e.Platform))
	h.Write([]byte{0})
	h.Write([]byte(e.EventType))
	h.Write([]byte{0})
	h.Write(canonicalPayload)
	return hex.EncodeToString(h.Sum(nil))
}
