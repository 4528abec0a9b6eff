// Package crdt implements the two replicated data types SYNC relies on:
// an LWW-Register for playback position and an OR-Set for watchlists and
// other collections (spec.md §3, §4.2). Both are pure value types; deltas
// carry only the operation plus an HLC timestamp and origin, never full
// state, so the SyncStore can persist and broadcast them cheaply.
package crdt

import "github.com/streamline/gateway/internal/hlc"

// PlaybackState mirrors spec.md §3's enumerated playback states.
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
)

// CompletionThreshold is the position/duration ratio above which a playback
// is considered Completed (spec.md §3).
const CompletionThreshold = 0.95

// PlaybackPosition is the payload of the LWW-Register.
type PlaybackPosition struct {
	ContentID        string        `json:"content_id"`
	PositionSeconds  float64       `json:"position_seconds"`
	DurationSeconds  float64       `json:"duration_seconds"`
	State            PlaybackState `json:"state"`
}

// Completed reports whether this position counts as a finished watch.
func (p PlaybackPosition) Completed() bool {
	if p.DurationSeconds <= 0 {
		return false
	}
	return p.PositionSeconds/p.DurationSeconds >= CompletionThreshold
}

// LWWRegister holds a single value with last-write-wins merge semantics.
// The zero value is an empty, unset register.
type LWWRegister struct {
	Value  PlaybackPosition `json:"value"`
	TS     hlc.Timestamp    `json:"ts"`
	Origin string           `json:"origin"`
	set    bool
}

// NewLWWRegister constructs a register already holding a value.
func NewLWWRegister(value PlaybackPosition, ts hlc.Timestamp, origin string) LWWRegister {
	return LWWRegister{Value: value, TS: ts, Origin: origin, set: true}
}

// IsZero reports whether the register has never been assigned.
func (r LWWRegister) IsZero() bool { return !r.set }

// Merge returns the result of merging r with other: the entry with the
// greater HLC wins; ties are broken by origin (spec.md §3). Merge is
// commutative, associative, and idempotent (spec.md §8).
func (r LWWRegister) Merge(other LWWRegister) LWWRegister {
	if !r.set {
		return other
	}
	if !other.set {
		return r
	}
	if other.TS.After(r.TS) {
		return other
	}
	if r.TS.After(other.TS) {
		return r
	}
	// Timestamps tie exactly (same physical, logical, and origin would mean
	// same event); fall back to an origin comparison for determinism.
	if other.Origin > r.Origin {
		return other
	}
	return r
}

// MergeMax returns max(r.TS, other.TS) the way spec.md §8 states the
// invariant: merge(S1,S2).ts >= max(S1.ts, S2.ts).
func MergeMax(a, b hlc.Timestamp) hlc.Timestamp {
	return hlc.Max(a, b)
}
