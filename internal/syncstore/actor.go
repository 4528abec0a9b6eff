package syncstore

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/hlc"
)

// actor owns a single user's write path (spec.md §9 actor-per-user): every
// ApplyLocal/ApplyRemote call for this user_id is funneled through one
// goroutine, which is the only thing that ever writes to db, so writes
// serialize per user without an explicit lock (spec.md §5). Reads bypass
// the actor entirely — SQLite's WAL mode lets them run concurrently with
// the actor's in-flight writes, matching the "non-blocking snapshot reads"
// requirement.
type actor struct {
	userID      string
	db          *sql.DB
	wallClock   hlc.NowFunc
	broadcaster Broadcaster

	mu     sync.Mutex // not locked: clocks is only touched by the actor goroutine
	clocks map[string]*hlc.Clock

	inbox  chan func()
	closed chan struct{}
	once   sync.Once
}

func newActor(userID string, db *sql.DB, wallClock hlc.NowFunc, b Broadcaster) *actor {
	a := &actor{
		userID:      userID,
		db:          db,
		wallClock:   wallClock,
		broadcaster: b,
		clocks:      make(map[string]*hlc.Clock),
		inbox:       make(chan func(), 64),
		closed:      make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	for {
		select {
		case fn := <-a.inbox:
			fn()
		case <-a.closed:
			return
		}
	}
}

// clockFor returns (creating if absent) the HLC clock this actor maintains
// on behalf of originDevice. Only ever called from within the actor
// goroutine, so no locking is needed around the map itself.
func (a *actor) clockFor(origin string) *hlc.Clock {
	c, ok := a.clocks[origin]
	if !ok {
		c = hlc.New(origin, a.wallClock)
		a.clocks[origin] = c
	}
	return c
}

// close stops the actor's loop. Queued commands already in the channel are
// dropped; callers in flight receive ErrClosed.
func (a *actor) close() {
	a.once.Do(func() { close(a.closed) })
}

// actorResult carries a submit call's return value through the actor's
// single-goroutine execution back to the calling goroutine.
type actorResult[T any] struct {
	value T
	err   error
}

// submitActor runs fn on a's goroutine and waits for its result, or returns
// ErrClosed if the actor has already shut down.
func submitActor[T any](ctx context.Context, a *actor, fn func() (T, error)) (T, error) {
	ch := make(chan actorResult[T], 1)
	cmd := func() {
		v, err := fn()
		ch <- actorResult[T]{value: v, err: err}
	}

	select {
	case a.inbox <- cmd:
	case <-a.closed:
		var zero T
		return zero, apperr.Wrap(apperr.KindFatal, "syncstore actor closed", ErrClosed)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-a.closed:
		select {
		case r := <-ch:
			return r.value, r.err
		default:
		}
		var zero T
		return zero, apperr.Wrap(apperr.KindFatal, "syncstore actor closed", ErrClosed)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// publishWarn emits delta to the broadcaster, logging (not propagating) any
// failure: broadcast errors are a warning, the delta is already durable
// (spec.md §4.3, §7).
func (a *actor) publishWarn(ctx context.Context, delta Delta) {
	if a.broadcaster == nil {
		return
	}
	if err := a.broadcaster.Publish(ctx, a.userID, delta); err != nil {
		slog.Warn("syncstore: broadcast failed",
			"user_id", a.userID, "sequence", delta.Sequence, "kind", delta.Kind, "error", err)
	}
}
