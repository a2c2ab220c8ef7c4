// Package taskqueue implements the named, delayed, idempotent task
// dispatcher from spec.md §2 item 4 and §7 ("Idempotency. Tasks are named
// deterministically ... so replay is a no-op").
//
// A worker pool per queue, graceful shutdown via context + sync.WaitGroup,
// backed by a Postgres lease (SELECT ... FOR UPDATE SKIP LOCKED) so tasks
// survive a restart, parameterized by queue name rather than hardcoded to
// one kind of task.
package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
)

// Queue names routed by the dispatcher (spec.md §2 item 4).
const (
	QueueSubscription   = "subscription"
	QueueFeedPull       = "feed-pull"
	QueueFeedPullRetry  = "feed-pull-retry"
	QueueDelivery       = "delivery"
	QueueDeliveryRetry  = "delivery-retry"
	QueuePolling        = "polling"
	QueueMappings       = "mappings"
	QueueRecordFeed     = "record-feed"
)

// HandlerFunc processes one claimed task's payload. Returning an error
// causes the task to be released for retry rather than completed.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Dispatcher polls Postgres for due tasks on each registered queue and runs
// the queue's handler with bounded concurrency, one worker pool per queue.
type Dispatcher struct {
	db           db.Querier
	workerID     string
	pollInterval time.Duration
	workersPer   int
	localRetries int

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Dispatcher. localRetries mirrors spec.md §5 "Task inserts
// themselves are retried 3x locally before surfacing as 503."
func New(q db.Querier, pollInterval time.Duration, workersPerQueue, localRetries int) *Dispatcher {
	return &Dispatcher{
		db:           q,
		workerID:     uuid.NewString(),
		pollInterval: pollInterval,
		workersPer:   workersPerQueue,
		localRetries: localRetries,
		handlers:     make(map[string]HandlerFunc),
	}
}

// RegisterHandler wires queue to fn. Must be called before Start.
func (d *Dispatcher) RegisterHandler(queue string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[queue] = fn
}

// Enqueue inserts a named task, deterministically deduplicated by
// (queue, name), to run no earlier than eta.
func (d *Dispatcher) Enqueue(ctx context.Context, queue, name string, eta time.Time, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < d.localRetries; attempt++ {
		_, err := d.db.EnqueueTask(ctx, db.EnqueueTaskParams{
			ID:      pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true},
			Queue:   queue,
			Name:    name,
			EtaTime: pgtype.Timestamptz{Time: eta, Valid: true},
			Payload: payload,
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("enqueue task %s/%s after %d attempts: %w", queue, name, d.localRetries, lastErr)
}

// ScheduleDrain implements forkjoin.Scheduler by enqueueing a task named
// after the batch index.
func (d *Dispatcher) ScheduleDrain(ctx context.Context, queueName, index string, delay time.Duration) error {
	return d.Enqueue(ctx, queueName, "drain:"+index, time.Now().Add(delay), []byte(index))
}

// Start launches one polling goroutine per registered queue. Stops when ctx
// is cancelled; Stop blocks until all workers have returned.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.mu.Lock()
	defer d.mu.Unlock()
	for queue, handler := range d.handlers {
		for i := 0; i < d.workersPer; i++ {
			d.wg.Add(1)
			go d.runWorker(ctx, queue, handler)
		}
	}
}

// Stop cancels all workers and waits for them to drain in-flight tasks.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, queue string, handler HandlerFunc) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx, queue, handler)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context, queue string, handler HandlerFunc) {
	tasks, err := d.db.ClaimDueTasks(ctx, queue, d.workerID, int32(d.workersPer*4))
	if err != nil {
		slog.Error("claim due tasks failed", "queue", queue, "error", err)
		return
	}
	for _, t := range tasks {
		if err := handler(ctx, t.Payload); err != nil {
			slog.Warn("task handler failed, releasing for retry", "queue", queue, "name", t.Name, "error", err)
			if relErr := d.db.ReleaseTask(ctx, t.ID, pgtype.Timestamptz{Time: time.Now().Add(d.pollInterval), Valid: true}); relErr != nil {
				slog.Error("failed to release task", "queue", queue, "name", t.Name, "error", relErr)
			}
			continue
		}
		if err := d.db.CompleteTask(ctx, t.ID); err != nil {
			slog.Error("failed to mark task complete", "queue", queue, "name", t.Name, "error", err)
		}
	}
}
