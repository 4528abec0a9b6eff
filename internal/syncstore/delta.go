package syncstore

import (
	"encoding/json"
	"time"

	"github.com/streamline/gateway/internal/crdt"
	"github.com/streamline/gateway/internal/hlc"
)

// DeltaKind discriminates the operation a Delta carries (spec.md §3, §4.2).
type DeltaKind string

const (
	DeltaPositionUpdate  DeltaKind = "position_update"
	DeltaWatchlistAdd    DeltaKind = "watchlist_add"
	DeltaWatchlistRemove DeltaKind = "watchlist_remove"
)

// DefaultCollection is the OR-Set collection used when callers don't name
// one explicitly (most clients have exactly one watchlist).
const DefaultCollection = "watchlist"

// PositionPayload is the Delta.Payload shape for DeltaPositionUpdate.
type PositionPayload struct {
	ContentID       string             `json:"content_id"`
	PositionSeconds float64            `json:"position_seconds"`
	DurationSeconds float64            `json:"duration_seconds"`
	State           crdt.PlaybackState `json:"state"`
}

// WatchlistAddPayload is the Delta.Payload shape for DeltaWatchlistAdd.
type WatchlistAddPayload struct {
	Tag  crdt.Tag `json:"tag"`
	Item string   `json:"item"`
}

// WatchlistRemovePayload is the Delta.Payload shape for DeltaWatchlistRemove.
type WatchlistRemovePayload struct {
	Item string `json:"item"`
}

// Delta is a single CRDT operation as it travels through apply_local,
// apply_remote, the change log, and the Broadcaster. It carries only the
// operation and its HLC stamp, never full state (spec.md §4.2). Sequence is
// the change_log rowid, and deltas_since pages by Sequence alone. Writes
// are serialized per user by the actor, so Sequence follows append order;
// that matches HLC order only while stamps arrive increasing, since a
// client-supplied ts or a replicated delta can carry an older stamp than
// rows already appended.
type Delta struct {
	Sequence   int64           `json:"sequence"`
	Kind       DeltaKind       `json:"kind"`
	Collection string          `json:"collection,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	TS         hlc.Timestamp   `json:"ts"`
	CreatedAt  time.Time       `json:"created_at"`
	ReceivedAt time.Time       `json:"received_at"`
}

// DecodePosition unmarshals Payload as a PositionPayload.
func (d Delta) DecodePosition() (PositionPayload, error) {
	var p PositionPayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

// DecodeWatchlistAdd unmarshals Payload as a WatchlistAddPayload.
func (d Delta) DecodeWatchlistAdd() (WatchlistAddPayload, error) {
	var p WatchlistAddPayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

// DecodeWatchlistRemove unmarshals Payload as a WatchlistRemovePayload.
func (d Delta) DecodeWatchlistRemove() (WatchlistRemovePayload, error) {
	var p WatchlistRemovePayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

func encodePayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// Snapshot is the cold-reconnect state returned by SyncStore.Snapshot
// (spec.md §4.3): every live LWW-Register keyed by content_id, every
// OR-Set keyed by collection name, and the device set known to this
// user's sync stream.
type Snapshot struct {
	UserID      string                  `json:"user_id"`
	Positions   map[string]crdt.LWWRegister `json:"positions"`
	Collections map[string]*crdt.ORSet      `json:"collections"`
	Devices     []string                    `json:"devices"`
	Watermark   int64                       `json:"watermark"`
}
