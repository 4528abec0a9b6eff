package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// backoffBase and backoffCap are the exponential backoff parameters
// spec.md §4.8 pins exactly: base 1s, factor 2 (go-retry's
// NewExponential default multiplier), max 60s, max 5 attempts before DLQ.
const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
	maxAttempts = 5
)

// Handler processes one dequeued webhook item: decode platform-specific
// payload, resolve the entity, upsert into the catalog. Returning an error
// triggers a retry (or DLQ once maxAttempts is exhausted).
type Handler func(ctx context.Context, item QueueItem) error

// Worker drains Queue for one platform, applying Handler with exponential
// backoff on failure and moving exhausted items to the DLQ (spec.md §4.8).
// Backoff state lives in the durable queue row (attempts, next_attempt_at)
// rather than an in-process sleep, so a claimed-but-failing item doesn't
// block the rest of that platform's FIFO while it waits out its delay.
type Worker struct {
	platform  string
	queue     *Queue
	handle    Handler
	pollEvery time.Duration
}

// NewWorker builds a Worker for platform, polling the queue every
// pollEvery when nothing is immediately ready.
func NewWorker(platform string, queue *Queue, handle Handler, pollEvery time.Duration) *Worker {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	return &Worker{platform: platform, queue: queue, handle: handle, pollEvery: pollEvery}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		processed := w.drainOnce(ctx)
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// drainOnce claims and attempts at most one item, reporting whether it
// found work to do.
func (w *Worker) drainOnce(ctx context.Context) bool {
	item, ok, err := w.queue.ClaimNext(ctx, w.platform, time.Now().UTC())
	if err != nil {
		slog.Error("webhook queue claim failed", "platform", w.platform, "error", err, "component", "webhook")
		return false
	}
	if !ok {
		return false
	}

	if err := w.handle(ctx, item); err != nil {
		w.onFailure(ctx, item, err)
		return true
	}
	if err := w.queue.Complete(ctx, item.ID); err != nil {
		slog.Error("webhook completion failed", "id", item.ID, "error", err, "component", "webhook")
	}
	return true
}

// onFailure schedules a retry at the next backoff delay, or moves item to
// the DLQ with full context once maxAttempts is exhausted.
func (w *Worker) onFailure(ctx context.Context, item QueueItem, handlerErr error) {
	nextAttemptNumber := item.Attempts + 1
	if nextAttemptNumber >= maxAttempts {
		slog.Error("webhook handler exhausted retries, moving to dlq",
			"platform", w.platform, "id", item.ID, "attempts", nextAttemptNumber, "error", handlerErr, "component", "webhook")
		if err := w.queue.MoveToDLQ(ctx, item, handlerErr); err != nil {
			slog.Error("webhook dlq move failed", "id", item.ID, "error", err, "component", "webhook")
		}
		return
	}

	delay := backoffDelay(item.Attempts)
	slog.Warn("webhook handler failed, scheduling retry",
		"platform", w.platform, "id", item.ID, "attempt", nextAttemptNumber, "delay", delay, "error", handlerErr, "component", "webhook")
	if err := w.queue.Retry(ctx, item.ID, time.Now().UTC().Add(delay), handlerErr); err != nil {
		slog.Error("webhook retry scheduling failed", "id", item.ID, "error", err, "component", "webhook")
	}
}

// backoffDelay returns the delay before the (priorAttempts+1)th attempt,
// using go-retry's exponential backoff capped at backoffCap: 1s, 2s, 4s,
// 8s, 16s, ... spec.md §4.8's base/factor/cap.
func backoffDelay(priorAttempts int) time.Duration {
	b, err := retry.NewExponential(backoffBase)
	if err != nil {
		return backoffCap
	}
	b = retry.WithCappedDuration(backoffCap, b)

	var delay time.Duration
	for i := 0; i <= priorAttempts; i++ {
		d, stop := b.Next()
		if stop {
			return backoffCap
		}
		delay = d
	}
	return delay
}
