// Package syncstore persists per-user CRDT state and its delta log
// (spec.md §4.3). Each user owns one SQLite file, loaded lazily and
// written to by a single actor goroutine so that writes serialize per
// user_id while reads stay non-blocking snapshot reads (spec.md §5), the
// way the teacher's internal/multistore lazily loads one SQLite file per
// namespace and internal/store/sqlite_changelog.go logs + paginates
// changes by sequence.
package syncstore

import (
	"context"
	"errors"

	"github.com/streamline/gateway/internal/hlc"
)

// ErrDeviceNotRegistered is returned by ApplyLocal when the delta's origin
// device has not been registered with this user's SyncStore.
var ErrDeviceNotRegistered = errors.New("syncstore: origin device not registered")

// ErrClosed is returned when an operation is attempted after Close.
var ErrClosed = errors.New("syncstore: store closed")

// Broadcaster is the narrow capability SyncStore needs to relay an
// accepted delta to live sessions (spec.md §4.3, §4.4, §9 narrow
// capability interfaces). Publish errors are logged and swallowed by the
// caller; they never fail apply_local.
type Broadcaster interface {
	Publish(ctx context.Context, userID string, delta Delta) error
}

// NoopBroadcaster discards every delta. Used where no live Broadcaster is
// wired yet (tests, offline tooling).
type NoopBroadcaster struct{}

func (NoopBroadcaster) Publish(context.Context, string, Delta) error { return nil }

// SyncStore is the contract spec.md §4.3 requires of per-user CRDT
// persistence.
type SyncStore interface {
	// RegisterDevice marks deviceID as a valid origin for userID's future
	// ApplyLocal calls. Idempotent.
	RegisterDevice(ctx context.Context, userID, deviceID string) error

	// ApplyLocal validates originDeviceID is registered, assigns ts via the
	// origin's HLC clock when ts is nil, persists the resulting Delta, and
	// emits it to the Broadcaster. Persistence failure is fatal to the call
	// (no Delta returned); Broadcaster failure is logged and swallowed
	// (spec.md §4.3, §7).
	ApplyLocal(ctx context.Context, userID, originDeviceID string, kind DeltaKind, collection string, payload any, ts *hlc.Timestamp) (Delta, error)

	// ApplyRemote folds a replicated Delta into user state. Idempotent:
	// a duplicate (origin, HLC) pair — i.e. an identical delta.TS — is a
	// no-op (spec.md §4.3, §8).
	ApplyRemote(ctx context.Context, userID string, delta Delta) error

	// Snapshot returns the user's full CRDT state for cold reconnect.
	Snapshot(ctx context.Context, userID string) (Snapshot, error)

	// DeltasSince returns deltas with sequence > after, in ascending
	// sequence (append) order. A delta appended with an older HLC stamp
	// than rows before it (a client-supplied or replicated stamp) is not
	// re-sorted into HLC order.
	DeltasSince(ctx context.Context, userID string, after int64, limit int) ([]Delta, error)

	// Close releases every loaded per-user store and stops its actor.
	Close() error
}
