package syncstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/crdt"
	"github.com/streamline/gateway/internal/hlc"
)

// userIDPattern bounds what may be used as a directory/file component,
// mirroring the teacher's internal/multistore/storeid.go validation but
// simplified: user_ids don't need the teacher's nested org/project paths.
var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

func validateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return apperr.New(apperr.KindInvalidInput, fmt.Sprintf("invalid user_id %q", userID))
	}
	return nil
}

// Manager lazily loads one userStore per user_id under rootPath, the way
// the teacher's multistore.StoreManager lazily loads one namespace per
// store_id (internal/multistore/manager.go). It implements SyncStore across
// the whole user population.
type Manager struct {
	rootPath    string
	wallClock   hlc.NowFunc
	broadcaster Broadcaster

	mu    sync.RWMutex
	users map[string]*userStore
}

// NewManager creates a Manager rooted at rootPath (config Stores.RootPath).
// broadcaster may be nil, in which case deltas are accepted but never
// relayed (tests, offline tooling); production wiring passes the
// internal/broadcast Hub.
func NewManager(rootPath string, wallClock hlc.NowFunc, broadcaster Broadcaster) (*Manager, error) {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &Manager{
		rootPath:    rootPath,
		wallClock:   wallClock,
		broadcaster: broadcaster,
		users:       make(map[string]*userStore),
	}, nil
}

func (m *Manager) storePath(userID string) string {
	return filepath.Join(m.rootPath, userID, "sync.db")
}

// get returns (loading if necessary) the userStore for userID.
func (m *Manager) get(userID string) (*userStore, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if s, ok := m.users[userID]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.users[userID]; ok {
		return s, nil
	}

	s, err := openUserStore(userID, m.storePath(userID), m.wallClock, m.broadcaster)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "open user sync store", err)
	}
	m.users[userID] = s
	slog.Info("syncstore: user store loaded", "user_id", userID)
	return s, nil
}

func (m *Manager) RegisterDevice(ctx context.Context, userID, deviceID string) error {
	s, err := m.get(userID)
	if err != nil {
		return err
	}
	return s.registerDevice(ctx, deviceID)
}

func (m *Manager) ApplyLocal(ctx context.Context, userID, originDeviceID string, kind DeltaKind, collection string, payload any, ts *hlc.Timestamp) (Delta, error) {
	s, err := m.get(userID)
	if err != nil {
		return Delta{}, err
	}

	return submitActor(ctx, s.actor, func() (Delta, error) {
		registered, err := s.isRegistered(ctx, originDeviceID)
		if err != nil {
			return Delta{}, err
		}
		if !registered {
			return Delta{}, apperr.Wrap(apperr.KindForbidden, "origin device not registered", ErrDeviceNotRegistered).
				WithCode("device_not_registered")
		}

		// A client-supplied ts is used verbatim — the device already stamped
		// it with its own knowledge of prior events — but still folded into
		// this actor's bookkeeping clock so later auto-assigned stamps for
		// the same origin stay causally after it.
		var stamp hlc.Timestamp
		if ts != nil {
			stamp = *ts
			s.actor.clockFor(originDeviceID).Update(*ts)
		} else {
			stamp = s.actor.clockFor(originDeviceID).Now()
		}

		encoded, err := encodePayload(payload)
		if err != nil {
			return Delta{}, apperr.Wrap(apperr.KindInvalidInput, "encode delta payload", err)
		}

		now := time.Now().UTC()
		delta := Delta{
			Kind:       kind,
			Collection: collection,
			Payload:    encoded,
			TS:         stamp,
			CreatedAt:  now,
			ReceivedAt: now,
		}

		applied, err := s.applyAndLog(ctx, delta)
		if err != nil {
			// Persistence failure is fatal to the call; no ack (spec.md §4.3).
			return Delta{}, apperr.Wrap(apperr.KindFatal, "persist delta", err)
		}

		s.actor.publishWarn(ctx, applied)
		return applied, nil
	})
}

func (m *Manager) ApplyRemote(ctx context.Context, userID string, delta Delta) error {
	s, err := m.get(userID)
	if err != nil {
		return err
	}

	_, err = submitActor(ctx, s.actor, func() (struct{}, error) {
		s.actor.clockFor(delta.TS.Origin).Update(delta.TS)
		_, err := s.applyAndLog(ctx, delta)
		return struct{}{}, err
	})
	return err
}

// applyAndLog runs the idempotency check, state merge, and change_log
// append for a single delta inside one transaction. Returns the delta as
// durably applied with its assigned Sequence; when it was already applied,
// returns d unchanged (no Sequence assigned) with a nil error.
func (s *userStore) applyAndLog(ctx context.Context, d Delta) (Delta, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Delta{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	dup, err := s.idempotent(ctx, tx, d.TS)
	if err != nil {
		return Delta{}, err
	}
	if dup {
		if err := tx.Commit(); err != nil {
			return Delta{}, fmt.Errorf("commit idempotency no-op: %w", err)
		}
		return d, nil
	}

	switch d.Kind {
	case DeltaPositionUpdate:
		p, err := d.DecodePosition()
		if err != nil {
			return Delta{}, fmt.Errorf("decode position payload: %w", err)
		}
		candidate := crdt.NewLWWRegister(
			crdt.PlaybackPosition{ContentID: p.ContentID, PositionSeconds: p.PositionSeconds, DurationSeconds: p.DurationSeconds, State: p.State},
			d.TS, d.TS.Origin,
		)
		if err := s.mergePosition(ctx, tx, p.ContentID, candidate); err != nil {
			return Delta{}, err
		}
	case DeltaWatchlistAdd:
		p, err := d.DecodeWatchlistAdd()
		if err != nil {
			return Delta{}, fmt.Errorf("decode watchlist add payload: %w", err)
		}
		collection := d.Collection
		if collection == "" {
			collection = DefaultCollection
		}
		if err := s.applyWatchlistAdd(ctx, tx, collection, p.Tag, p.Item, d.TS, d.TS.Origin); err != nil {
			return Delta{}, err
		}
	case DeltaWatchlistRemove:
		p, err := d.DecodeWatchlistRemove()
		if err != nil {
			return Delta{}, fmt.Errorf("decode watchlist remove payload: %w", err)
		}
		collection := d.Collection
		if collection == "" {
			collection = DefaultCollection
		}
		if err := s.applyWatchlistRemove(ctx, tx, collection, p.Item); err != nil {
			return Delta{}, err
		}
	default:
		return Delta{}, apperr.New(apperr.KindInvalidInput, fmt.Sprintf("unknown delta kind %q", d.Kind))
	}

	seq, err := s.appendChangeLog(ctx, tx, d)
	if err != nil {
		return Delta{}, err
	}
	if err := tx.Commit(); err != nil {
		return Delta{}, fmt.Errorf("commit delta: %w", err)
	}

	d.Sequence = seq
	return d, nil
}

func (m *Manager) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	s, err := m.get(userID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(ctx)
}

func (m *Manager) DeltasSince(ctx context.Context, userID string, after int64, limit int) ([]Delta, error) {
	s, err := m.get(userID)
	if err != nil {
		return nil, err
	}
	return s.deltasSince(ctx, after, limit)
}

// CompactTombstones discards orset_removals/orset_additions rows for
// userID whose addition predates horizon, routed through the user's actor
// so it never races with a concurrent ApplyLocal/ApplyRemote. Returns the
// number of tags discarded.
func (m *Manager) CompactTombstones(ctx context.Context, userID string, horizon hlc.Timestamp) (int64, error) {
	s, err := m.get(userID)
	if err != nil {
		return 0, err
	}
	return submitActor(ctx, s.actor, func() (int64, error) {
		return s.compactTombstones(ctx, horizon)
	})
}

// ListUsers enumerates every user with an on-disk store under rootPath,
// for periodic whole-population jobs (snapshot archival) the way the
// teacher's multistore.StoreManager.ListStores enumerates namespaces.
// Users not yet loaded into memory are still discovered, since store
// directories persist across restarts.
func (m *Manager) ListUsers(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindFatal, "list user stores", err)
	}

	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if validateUserID(e.Name()) != nil {
			continue
		}
		users = append(users, e.Name())
	}
	return users, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for id, s := range m.users {
		if err := s.close(); err != nil {
			slog.Error("syncstore: error closing user store", "user_id", id, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

var _ SyncStore = (*Manager)(nil)
