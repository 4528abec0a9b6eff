package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	webhookmigrations "github.com/streamline/gateway/internal/webhook/migrations"
)

const timeLayout = time.RFC3339Nano

// QueueItem is one durably enqueued webhook awaiting processing, or
// retried after a failed attempt.
type QueueItem struct {
	ID            int64
	Platform      string
	EventType     string
	Payload       []byte
	ContentHash   string
	ReceivedAt    time.Time
	Attempts      int
	NextAttemptAt time.Time
}

// Queue is the durable per-platform FIFO backing WebhookPipeline (spec.md
// §4.8). One SQLite file for the whole queue; FIFO ordering within a
// platform is enforced by claiming the oldest ready row for that platform,
// matching §5's "webhook queue is FIFO per platform; across platforms,
// unordered."
type Queue struct {
	db *sql.DB
}

// OpenQueue opens (creating if absent) the SQLite file at dbPath and
// applies the webhook queue schema.
func OpenQueue(dbPath string) (*Queue, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create webhook queue directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open webhook queue database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(webhookmigrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run webhook queue migrations: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue durably records evt for async processing.
func (q *Queue) Enqueue(ctx context.Context, platform, eventType string, payload []byte, contentHash string, receivedAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO webhook_queue (platform, event_type, payload, content_hash, received_at, attempts, status, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, 0, 'pending', ?)
	`, platform, eventType, payload, contentHash, receivedAt.Format(timeLayout), receivedAt.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("enqueue webhook: %w", err)
	}
	return res.LastInsertId()
}

// ClaimNext claims the oldest pending-and-ready item for platform,
// marking it 'processing' so a concurrent worker doesn't double-claim it.
// ok=false when nothing is ready.
func (q *Queue) ClaimNext(ctx context.Context, platform string, now time.Time) (item QueueItem, ok bool, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return QueueItem{}, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, platform, event_type, payload, content_hash, received_at, attempts, next_attempt_at
		FROM webhook_queue
		WHERE platform = ? AND status = 'pending' AND next_attempt_at <= ?
		ORDER BY id ASC
		LIMIT 1
	`, platform, now.Format(timeLayout))

	var it QueueItem
	var receivedAt, nextAttemptAt string
	if err := row.Scan(&it.ID, &it.Platform, &it.EventType, &it.Payload, &it.ContentHash, &receivedAt, &it.Attempts, &nextAttemptAt); err != nil {
		if err == sql.ErrNoRows {
			return QueueItem{}, false, nil
		}
		return QueueItem{}, false, fmt.Errorf("claim next: %w", err)
	}
	it.ReceivedAt, _ = time.Parse(timeLayout, receivedAt)
	it.NextAttemptAt, _ = time.Parse(timeLayout, nextAttemptAt)

	if _, err := tx.ExecContext(ctx, `UPDATE webhook_queue SET status = 'processing' WHERE id = ?`, it.ID); err != nil {
		return QueueItem{}, false, fmt.Errorf("mark processing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return QueueItem{}, false, fmt.Errorf("commit claim: %w", err)
	}
	return it, true, nil
}

// Complete removes a successfully processed item from the queue.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM webhook_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete webhook item %d: %w", id, err)
	}
	return nil
}

// Retry records a failed attempt and schedules the next one at
// nextAttemptAt, reverting status to 'pending' so ClaimNext can pick it up
// again once ready.
func (q *Queue) Retry(ctx context.Context, id int64, nextAttemptAt time.Time, lastErr error) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE webhook_queue
		SET attempts = attempts + 1, status = 'pending', next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, nextAttemptAt.Format(timeLayout), errString(lastErr), id)
	if err != nil {
		return fmt.Errorf("retry webhook item %d: %w", id, err)
	}
	return nil
}

// MoveToDLQ moves an item that has exhausted its retry budget to the dead
// letter queue with full context, per spec.md §4.8.
func (q *Queue) MoveToDLQ(ctx context.Context, item QueueItem, lastErr error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dlq tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_dlq (id, platform, event_type, payload, content_hash, attempts, last_error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Platform, item.EventType, item.Payload, item.ContentHash, item.Attempts+1, errString(lastErr), time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("insert dlq row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_queue WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("delete queue row %d: %w", item.ID, err)
	}
	return tx.Commit()
}

// ListDLQ returns every dead-lettered item for a platform, newest first.
// Nothing in cmd/gateway calls it.
func (q *Queue) ListDLQ(ctx context.Context, platform string) ([]QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, platform, event_type, payload, content_hash, attempts, failed_at
		FROM webhook_dlq WHERE platform = ? ORDER BY id DESC
	`, platform)
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var it QueueItem
		var failedAt string
		if err := rows.Scan(&it.ID, &it.Platform, &it.EventType, &it.Payload, &it.ContentHash, &it.Attempts, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dlq row: %w", err)
		}
		it.NextAttemptAt, _ = time.Parse(timeLayout, failedAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
