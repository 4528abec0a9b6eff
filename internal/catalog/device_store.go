package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/streamline/gateway/internal/types"
)

// UpsertDevice persists a device registration so internal/device.Registry
// (in-memory at runtime) can rehydrate its population on process restart.
func (s *Store) UpsertDevice(ctx context.Context, d types.Device) error {
	capabilities, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, user_id, type, platform, capabilities, app_version, last_seen, name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			type = excluded.type,
			platform = excluded.platform,
			capabilities = excluded.capabilities,
			app_version = excluded.app_version,
			last_seen = excluded.last_seen,
			name = excluded.name`,
		d.DeviceID, d.UserID, d.Type, d.Platform, string(capabilities), d.AppVersion,
		d.LastSeen.UTC().Format(time.RFC3339), d.Name)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// ListDevices returns every persisted device, used to rehydrate
// internal/device.Registry at startup.
func (s *Store) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, user_id, type, platform, capabilities, app_version, last_seen, name FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		var d types.Device
		var capabilities, lastSeen string
		if err := rows.Scan(&d.DeviceID, &d.UserID, &d.Type, &d.Platform, &capabilities, &d.AppVersion, &lastSeen, &d.Name); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if err := json.Unmarshal([]byte(capabilities), &d.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		d.LastSeen = ts
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordAuditEvent appends an entry to the audit log (spec.md §9
// supplemented feature): authentication, device commands, and entity
// merges all flow through this single append-only sink.
func (s *Store) RecordAuditEvent(ctx context.Context, actor, action, subject, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, subject, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`, actor, action, subject, detail, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// AuditEvent is one row read back from the audit log.
type AuditEvent struct {
	Actor     string
	Action    string
	Subject   string
	Detail    string
	CreatedAt time.Time
}

// RecentAuditEvents returns the most recent audit log entries, newest
// first, for operator inspection (cmd/gateway).
func (s *Store) RecentAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor, action, subject, detail, created_at FROM audit_log
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var createdAt string
		if err := rows.Scan(&e.Actor, &e.Action, &e.Subject, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateSession persists the start of a playback session (spec.md §3:
// Created -> (PositionUpdated)* -> Ended).
func (s *Store) CreateSession(ctx context.Context, sess types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_sessions (session_id, user_id, device_id, content_id, position, duration, quality, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		sess.SessionID, sess.UserID, sess.DeviceID, sess.ContentID, sess.Position, sess.Duration,
		string(sess.Quality), sess.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdatePosition applies a PositionUpdated event to an in-progress
// session.
func (s *Store) UpdatePosition(ctx context.Context, sessionID string, position float64, quality types.SessionQuality) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE playback_sessions SET position = ?, quality = ? WHERE session_id = ? AND ended_at IS NULL`,
		position, string(quality), sessionID)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

// EndSession marks a session Ended.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE playback_sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		endedAt.UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetAdapter satisfies the LoRA adapter persistence the RECO orchestrator
// needs. ok=false if userID has never been trained.
func (s *Store) GetAdapter(ctx context.Context, userID string) (types.LoRAAdapter, bool, error) {
	var (
		a                  types.LoRAAdapter
		aMatrix, bMatrix   []byte
		lastTrainedAt      sql.NullString
	)
	a.UserID = userID
	row := s.db.QueryRowContext(ctx, `
		SELECT a_matrix, b_matrix, rank, d_in, d_out, scale, iterations, last_trained_at
		FROM lora_adapters WHERE user_id = ?`, userID)
	err := row.Scan(&aMatrix, &bMatrix, &a.Rank, &a.DIn, &a.DOut, &a.Scale, &a.Iterations, &lastTrainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.LoRAAdapter{}, false, nil
	}
	if err != nil {
		return types.LoRAAdapter{}, false, fmt.Errorf("get adapter: %w", err)
	}
	a.A = unpackFloat64s(aMatrix)
	a.B = unpackFloat64s(bMatrix)
	if lastTrainedAt.Valid {
		ts, err := time.Parse(time.RFC3339, lastTrainedAt.String)
		if err != nil {
			return types.LoRAAdapter{}, false, fmt.Errorf("parse last_trained_at: %w", err)
		}
		a.LastTrainedAt = ts
	}
	return a, true, nil
}

// SaveAdapter persists a trained (or freshly initialized) adapter.
func (s *Store) SaveAdapter(ctx context.Context, a types.LoRAAdapter) error {
	var lastTrained any
	if !a.LastTrainedAt.IsZero() {
		lastTrained = a.LastTrainedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lora_adapters (user_id, a_matrix, b_matrix, rank, d_in, d_out, scale, iterations, last_trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			a_matrix = excluded.a_matrix,
			b_matrix = excluded.b_matrix,
			rank = excluded.rank,
			d_in = excluded.d_in,
			d_out = excluded.d_out,
			scale = excluded.scale,
			iterations = excluded.iterations,
			last_trained_at = excluded.last_trained_at`,
		a.UserID, packFloat64s(a.A), packFloat64s(a.B), a.Rank, a.DIn, a.DOut, a.Scale, a.Iterations, lastTrained)
	if err != nil {
		return fmt.Errorf("save adapter: %w", err)
	}
	return nil
}

func packFloat64s(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func unpackFloat64s(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
