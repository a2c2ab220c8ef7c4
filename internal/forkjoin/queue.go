// Package forkjoin implements the fork-join batching queue from spec.md
// §4.3 and §9: many producers append items keyed by a work index; a single
// worker per batch drains a coherent group and processes them together, so
// the publish path doesn't spawn one task per URL.
//
package forkjoin

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config holds the queue's tunables, named exactly as spec.md §4.3/§9 does.
type Config struct {
	BatchPeriod       time.Duration
	BatchSize         int
	AcquireAttempts   int
	AcquireTimeout    time.Duration
	ExpirationSeconds time.Duration
	StallTimeout      time.Duration
}

// Scheduler is how the queue asks the task dispatcher to drain a batch
// exactly once, named by index so re-scheduling is idempotent (spec.md
// §4.3 "add(index) schedules exactly one task (named by index)").
type Scheduler interface {
	ScheduleDrain(ctx context.Context, queueName, index string, delay time.Duration) error
}

type item[T any] struct {
	value     T
	expiresAt time.Time
}

type batch[T any] struct {
	index   string
	items   []item[T]
	sema    *semaphore.Weighted // 1-weight mutex with bounded-timeout acquire
	created time.Time
	full    bool
}

func newBatch[T any](index string) *batch[T] {
	return &batch[T]{index: index, sema: semaphore.NewWeighted(1), created: time.Now()}
}

// Queue is an in-memory fork-join queue for items of type T. All batches
// live in one map behind one lock; the queue is not sharded.
type Queue[T any] struct {
	name      string
	cfg       Config
	scheduler Scheduler

	mu      chan struct{} // guards batches map; buffered(1) acts as a fast mutex
	batches map[string]*batch[T]

	nextMu   chan struct{}
	current  string
	rotateAt time.Time
	seq      uint64
}

// New creates a fork-join queue routed to queueName on scheduler (the task
// dispatcher queue lane this queue's drains are enqueued onto).
func New[T any](name, queueName string, cfg Config, scheduler Scheduler) *Queue[T] {
	q := &Queue[T]{
		name:      name,
		cfg:       cfg,
		scheduler: scheduler,
		mu:        make(chan struct{}, 1),
		batches:   make(map[string]*batch[T]),
		nextMu:    make(chan struct{}, 1),
	}
	q.mu <- struct{}{}
	q.nextMu <- struct{}{}
	return q
}

func (q *Queue[T]) lock()   { <-q.mu }
func (q *Queue[T]) unlock() { q.mu <- struct{}{} }

// NextIndex returns the current batch id, rotating it every BatchPeriod or
// once the current batch hits BatchSize (spec.md §4.3 "next_index()").
func (q *Queue[T]) NextIndex() string {
	<-q.nextMu
	defer func() { q.nextMu <- struct{}{} }()

	now := time.Now()
	if q.current == "" || now.After(q.rotateAt) || q.batchFull(q.current) {
		q.seq++
		q.current = fmt.Sprintf("%s-%d-%d", q.name, now.UnixNano(), q.seq)
		q.rotateAt = now.Add(q.cfg.BatchPeriod)
	}
	return q.current
}

func (q *Queue[T]) batchFull(index string) bool {
	q.lock()
	defer q.unlock()
	b, ok := q.batches[index]
	return ok && len(b.items) >= q.cfg.BatchSize
}

// Put appends items to the batch named index, scheduling its drain task the
// first time the batch is created (spec.md §4.3 "put(index, items)" +
// "add(index)").
func (q *Queue[T]) Put(ctx context.Context, queueName, index string, values ...T) error {
	now := time.Now()
	q.lock()
	b, existed := q.batches[index]
	if !existed {
		b = newBatch[T](index)
		q.batches[index] = b
	}
	for _, v := range values {
		b.items = append(b.items, item[T]{value: v, expiresAt: now.Add(q.cfg.ExpirationSeconds)})
	}
	full := len(b.items) >= q.cfg.BatchSize
	q.unlock()

	if !existed {
		if err := q.scheduler.ScheduleDrain(ctx, queueName, index, q.cfg.BatchPeriod); err != nil {
			return fmt.Errorf("schedule drain for batch %s: %w", index, err)
		}
	}
	if full {
		// Batch filled up; drain can run immediately rather than waiting out
		// the rest of BatchPeriod.
		_ = q.scheduler.ScheduleDrain(ctx, queueName, index, 0)
	}
	return nil
}

// Drain acquires the batch's lock with bounded retries and returns every
// unexpired item in the batch, removing the batch (spec.md §4.3
// "pop_request(req)"). The result is not capped at BatchSize: a batch that
// grew past BatchSize is returned whole. Returns (nil, false) if the lock
// could not be acquired within AcquireAttempts tries.
func (q *Queue[T]) Drain(ctx context.Context, index string) ([]T, bool) {
	q.lock()
	b, ok := q.batches[index]
	q.unlock()
	if !ok {
		return nil, true
	}

	acquired := false
	for attempt := 0; attempt < q.cfg.AcquireAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, q.cfg.AcquireTimeout)
		err := b.sema.Acquire(actx, 1)
		cancel()
		if err == nil {
			acquired = true
			break
		}
	}
	if !acquired {
		return nil, false
	}
	defer b.sema.Release(1)

	now := time.Now()
	out := make([]T, 0, len(b.items))
	for _, it := range b.items {
		if now.After(it.expiresAt) {
			continue
		}
		out = append(out, it.value)
	}

	q.lock()
	delete(q.batches, index)
	q.unlock()

	return out, true
}
