// Package catalog is the shared relational store backing the gateway's
// single canonical content catalog, entity resolution table, interaction
// history, user profiles, devices, playback sessions, audit log, and
// experiments — the tables spec.md §6 "Persisted state layout" names
// under "Relational". It is the concrete implementation behind the
// narrow interfaces internal/quality, internal/worker, internal/resolver,
// internal/reco/candidates, internal/featurestore, internal/device, and
// internal/experiment each declare, grounded on the teacher's
// internal/store/sqlite.go (connection setup, pragmas, goose migrations)
// generalized from one lore database per store_id to one shared catalog
// database per process.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/streamline/gateway/migrations"
)

// Store wraps the shared relational database every narrow catalog-facing
// interface in the gateway is implemented against.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at dbPath,
// applies pragmas, and runs pending goose migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
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

// RunMigrations applies every pending goose migration embedded in the
// top-level migrations package.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats is a point-in-time snapshot of catalog population counts, used by
// the health/stats endpoint (spec.md §9 supplemented feature).
type Stats struct {
	ContentCount          int64
	EntityCount           int64
	InteractionCount      int64
	DeviceCount           int64
	ActiveSessionCount    int64
	PendingEmbeddingCount int64
	LowQualityCount       int64
}

// GetStats gathers catalog-wide counts for the extended health endpoint.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content`)
	if err := row.Scan(&st.ContentCount); err != nil {
		return Stats{}, fmt.Errorf("count content: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM content`)
	if err := row.Scan(&st.EntityCount); err != nil {
		return Stats{}, fmt.Errorf("count entities: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`)
	if err := row.Scan(&st.InteractionCount); err != nil {
		return Stats{}, fmt.Errorf("count interactions: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`)
	if err := row.Scan(&st.DeviceCount); err != nil {
		return Stats{}, fmt.Errorf("count devices: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM playback_sessions WHERE ended_at IS NULL`)
	if err := row.Scan(&st.ActiveSessionCount); err != nil {
		return Stats{}, fmt.Errorf("count active sessions: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content WHERE embedding IS NULL AND embedding_failed = 0`)
	if err := row.Scan(&st.PendingEmbeddingCount); err != nil {
		return Stats{}, fmt.Errorf("count pending embeddings: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content WHERE quality_final > 0 AND quality_final < 0.4`)
	if err := row.Scan(&st.LowQualityCount); err != nil {
		return Stats{}, fmt.Errorf("count low quality: %w", err)
	}
	return st, nil
}
