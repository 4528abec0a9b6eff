package syncstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/crdt"
	"github.com/streamline/gateway/internal/hlc"
	syncmigrations "github.com/streamline/gateway/internal/syncstore/migrations"
	_ "modernc.org/sqlite"
)

// userStore is the SQLite-backed SyncStore for a single user_id: one file,
// one actor goroutine serializing its writes. Mirrors the teacher's
// SQLiteStore (pragmas, goose migrations) scoped down to one user instead
// of one namespace.
type userStore struct {
	userID string
	dbPath string
	db     *sql.DB
	actor  *actor
}

// openUserStore opens (creating if absent) the SQLite file at dbPath for
// userID, applies pragmas and migrations, and starts its write actor.
func openUserStore(userID, dbPath string, wallClock hlc.NowFunc, broadcaster Broadcaster) (*userStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create syncstore directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open syncstore database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run syncstore migrations: %w", err)
	}

	return &userStore{
		userID: userID,
		dbPath: dbPath,
		db:     db,
		actor:  newActor(userID, db, wallClock, broadcaster),
	}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(syncmigrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *userStore) close() error {
	s.actor.close()
	return s.db.Close()
}

// registerDevice is the actor-side handler; see (*Manager).RegisterDevice.
func (s *userStore) registerDevice(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO devices (device_id, registered_at) VALUES (?, ?)
	`, deviceID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperr.Wrap(apperr.KindFatal, "register device", err)
	}
	return nil
}

func (s *userStore) isRegistered(ctx context.Context, deviceID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE device_id = ?`, deviceID).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.KindFatal, "check device registration", err)
	}
	return count > 0, nil
}

// idempotent reports whether ts has already been applied, recording it if
// not (spec.md §4.3, §8: duplicate (origin, HLC) pairs are no-ops — origin
// is embedded in the HLC triple, so the triple alone is the dedup key).
func (s *userStore) idempotent(ctx context.Context, tx *sql.Tx, ts hlc.Timestamp) (alreadyApplied bool, err error) {
	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM push_idempotency WHERE ts_physical=? AND ts_logical=? AND ts_origin=?
	`, ts.Physical, ts.Logical, ts.Origin).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check idempotency: %w", err)
	}
	if count > 0 {
		return true, nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO push_idempotency (ts_physical, ts_logical, ts_origin, created_at) VALUES (?, ?, ?, ?)
	`, ts.Physical, ts.Logical, ts.Origin, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("record idempotency: %w", err)
	}
	return false, nil
}

// mergePosition loads the current register for contentID, merges candidate
// in (LWW: greater HLC wins), and writes the merged result back.
func (s *userStore) mergePosition(ctx context.Context, tx *sql.Tx, contentID string, candidate crdt.LWWRegister) error {
	current, ok, err := s.loadPositionTx(ctx, tx, contentID)
	if err != nil {
		return err
	}
	merged := candidate
	if ok {
		merged = current.Merge(candidate)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO positions (content_id, position_seconds, duration_seconds, state, ts_physical, ts_logical, ts_origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			position_seconds=excluded.position_seconds,
			duration_seconds=excluded.duration_seconds,
			state=excluded.state,
			ts_physical=excluded.ts_physical,
			ts_logical=excluded.ts_logical,
			ts_origin=excluded.ts_origin
	`, contentID, merged.Value.PositionSeconds, merged.Value.DurationSeconds, string(merged.Value.State),
		merged.TS.Physical, merged.TS.Logical, merged.TS.Origin)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *userStore) loadPositionTx(ctx context.Context, tx *sql.Tx, contentID string) (crdt.LWWRegister, bool, error) {
	var pos, dur float64
	var state, origin string
	var physical int64
	var logical int64
	err := tx.QueryRowContext(ctx, `
		SELECT position_seconds, duration_seconds, state, ts_physical, ts_logical, ts_origin
		FROM positions WHERE content_id = ?
	`, contentID).Scan(&pos, &dur, &state, &physical, &logical, &origin)
	if err == sql.ErrNoRows {
		return crdt.LWWRegister{}, false, nil
	}
	if err != nil {
		return crdt.LWWRegister{}, false, fmt.Errorf("load position: %w", err)
	}
	reg := crdt.NewLWWRegister(
		crdt.PlaybackPosition{ContentID: contentID, PositionSeconds: pos, DurationSeconds: dur, State: crdt.PlaybackState(state)},
		hlc.Timestamp{Physical: physical, Logical: uint32(logical), Origin: origin},
		origin,
	)
	return reg, true, nil
}

// applyWatchlistAdd inserts a fresh addition tag. INSERT OR IGNORE because a
// replayed delta with the same tag is a no-op by construction (tags are
// minted once, spec.md §3).
func (s *userStore) applyWatchlistAdd(ctx context.Context, tx *sql.Tx, collection string, tag crdt.Tag, item string, ts hlc.Timestamp, origin string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO orset_additions (collection, tag, item, ts_physical, ts_logical, ts_origin)
		VALUES (?, ?, ?, ?, ?, ?)
	`, collection, string(tag), item, ts.Physical, ts.Logical, ts.Origin)
	if err != nil {
		return fmt.Errorf("insert orset addition: %w", err)
	}
	return nil
}

// applyWatchlistRemove tombstones every tag currently observed for item in
// collection, matching crdt.ORSet.Remove's in-memory semantics (spec.md §3:
// add-wins under concurrency, since tags added elsewhere but not yet
// observed here survive).
func (s *userStore) applyWatchlistRemove(ctx context.Context, tx *sql.Tx, collection, item string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT tag FROM orset_additions WHERE collection = ? AND item = ?
	`, collection, item)
	if err != nil {
		return fmt.Errorf("query addition tags: %w", err)
	}
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			rows.Close()
			return fmt.Errorf("scan addition tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO orset_removals (collection, tag) VALUES (?, ?)
		`, collection, tag); err != nil {
			return fmt.Errorf("insert orset removal: %w", err)
		}
	}
	return nil
}

func (s *userStore) appendChangeLog(ctx context.Context, tx *sql.Tx, d Delta) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO change_log (kind, collection, payload, ts_physical, ts_logical, ts_origin, created_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(d.Kind), d.Collection, string(d.Payload), d.TS.Physical, d.TS.Logical, d.TS.Origin,
		d.CreatedAt.UTC().Format(time.RFC3339Nano), d.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("append change log: %w", err)
	}
	return result.LastInsertId()
}

func (s *userStore) snapshot(ctx context.Context) (Snapshot, error) {
	positions := make(map[string]crdt.LWWRegister)
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_id, position_seconds, duration_seconds, state, ts_physical, ts_logical, ts_origin
		FROM positions
	`)
	if err != nil {
		return Snapshot{}, apperr.Wrap(apperr.KindFatal, "snapshot positions", err)
	}
	for rows.Next() {
		var contentID, state, origin string
		var pos, dur float64
		var physical int64
		var logical int64
		if err := rows.Scan(&contentID, &pos, &dur, &state, &physical, &logical, &origin); err != nil {
			rows.Close()
			return Snapshot{}, apperr.Wrap(apperr.KindFatal, "scan position", err)
		}
		positions[contentID] = crdt.NewLWWRegister(
			crdt.PlaybackPosition{ContentID: contentID, PositionSeconds: pos, DurationSeconds: dur, State: crdt.PlaybackState(state)},
			hlc.Timestamp{Physical: physical, Logical: uint32(logical), Origin: origin},
			origin,
		)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, apperr.Wrap(apperr.KindFatal, "iterate positions", err)
	}

	collections, err := s.loadCollections(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var devices []string
	devRows, err := s.db.QueryContext(ctx, `SELECT device_id FROM devices`)
	if err != nil {
		return Snapshot{}, apperr.Wrap(apperr.KindFatal, "snapshot devices", err)
	}
	for devRows.Next() {
		var id string
		if err := devRows.Scan(&id); err != nil {
			devRows.Close()
			return Snapshot{}, apperr.Wrap(apperr.KindFatal, "scan device", err)
		}
		devices = append(devices, id)
	}
	devRows.Close()
	if err := devRows.Err(); err != nil {
		return Snapshot{}, apperr.Wrap(apperr.KindFatal, "iterate devices", err)
	}

	watermark, err := s.latestSequence(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		UserID:      s.userID,
		Positions:   positions,
		Collections: collections,
		Devices:     devices,
		Watermark:   watermark,
	}, nil
}

func (s *userStore) loadCollections(ctx context.Context) (map[string]*crdt.ORSet, error) {
	out := make(map[string]*crdt.ORSet)

	addRows, err := s.db.QueryContext(ctx, `
		SELECT collection, tag, item, ts_physical, ts_logical, ts_origin FROM orset_additions
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "load orset additions", err)
	}
	for addRows.Next() {
		var collection, tag, item, origin string
		var physical int64
		var logical int64
		if err := addRows.Scan(&collection, &tag, &item, &physical, &logical, &origin); err != nil {
			addRows.Close()
			return nil, apperr.Wrap(apperr.KindFatal, "scan orset addition", err)
		}
		set, ok := out[collection]
		if !ok {
			set = crdt.NewORSet()
			out[collection] = set
		}
		set.Add(crdt.Tag(tag), item, hlc.Timestamp{Physical: physical, Logical: uint32(logical), Origin: origin}, origin)
	}
	addRows.Close()
	if err := addRows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "iterate orset additions", err)
	}

	remRows, err := s.db.QueryContext(ctx, `SELECT collection, tag FROM orset_removals`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "load orset removals", err)
	}
	for remRows.Next() {
		var collection, tag string
		if err := remRows.Scan(&collection, &tag); err != nil {
			remRows.Close()
			return nil, apperr.Wrap(apperr.KindFatal, "scan orset removal", err)
		}
		set, ok := out[collection]
		if !ok {
			set = crdt.NewORSet()
			out[collection] = set
		}
		set.Removals[crdt.Tag(tag)] = struct{}{}
	}
	remRows.Close()
	if err := remRows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "iterate orset removals", err)
	}

	return out, nil
}

// compactTombstones discards orset_removals (and their matching
// orset_additions) whose addition timestamp is older than horizon,
// generalizing crdt.ORSet.Compact's in-memory policy to the on-disk
// representation so the tables don't grow unboundedly with
// long-dead watchlist removals (spec.md open question on tombstone
// retention; resolved in DESIGN.md as a bounded-window policy). A
// removal row with no matching addition row (already orphaned) is treated
// as past the horizon too. Returns the number of tombstoned tags discarded.
func (s *userStore) compactTombstones(ctx context.Context, horizon hlc.Timestamp) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin compaction transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT r.collection, r.tag, a.ts_physical, a.ts_logical, a.ts_origin
		FROM orset_removals r
		LEFT JOIN orset_additions a ON a.collection = r.collection AND a.tag = r.tag
	`)
	if err != nil {
		return 0, fmt.Errorf("query tombstoned tags: %w", err)
	}

	type pair struct{ collection, tag string }
	var toDelete []pair
	for rows.Next() {
		var collection, tag string
		var physical, logical sql.NullInt64
		var origin sql.NullString
		if err := rows.Scan(&collection, &tag, &physical, &logical, &origin); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan tombstoned tag: %w", err)
		}
		if !physical.Valid {
			toDelete = append(toDelete, pair{collection, tag})
			continue
		}
		ts := hlc.Timestamp{Physical: physical.Int64, Logical: uint32(logical.Int64), Origin: origin.String}
		if ts.Before(horizon) {
			toDelete = append(toDelete, pair{collection, tag})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate tombstoned tags: %w", err)
	}

	for _, p := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM orset_removals WHERE collection = ? AND tag = ?`, p.collection, p.tag); err != nil {
			return 0, fmt.Errorf("delete orset removal: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM orset_additions WHERE collection = ? AND tag = ?`, p.collection, p.tag); err != nil {
			return 0, fmt.Errorf("delete orset addition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit compaction: %w", err)
	}
	return int64(len(toDelete)), nil
}

func (s *userStore) latestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM change_log`).Scan(&seq)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindFatal, "get latest sequence", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func (s *userStore) deltasSince(ctx context.Context, after int64, limit int) ([]Delta, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, kind, collection, payload, ts_physical, ts_logical, ts_origin, created_at, received_at
		FROM change_log
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "query deltas since", err)
	}
	defer rows.Close()

	out := make([]Delta, 0)
	for rows.Next() {
		var d Delta
		var collection sql.NullString
		var payload string
		var physical int64
		var logical int64
		var createdAt, receivedAt string
		if err := rows.Scan(&d.Sequence, &d.Kind, &collection, &payload, &physical, &logical, &d.TS.Origin, &createdAt, &receivedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindFatal, "scan delta", err)
		}
		d.TS.Physical = physical
		d.TS.Logical = uint32(logical)
		d.Collection = collection.String
		d.Payload = []byte(payload)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		d.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
