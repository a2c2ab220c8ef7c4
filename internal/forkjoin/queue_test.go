package forkjoin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeScheduler) ScheduleDrain(ctx context.Context, queueName, index string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, queueName+":"+index)
	return nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() Config {
	return Config{
		BatchPeriod:       time.Minute,
		BatchSize:         3,
		AcquireAttempts:   3,
		AcquireTimeout:    50 * time.Millisecond,
		ExpirationSeconds: time.Minute,
	}
}

func TestQueuePutSchedulesDrainOnce(t *testing.T) {
	sched := &fakeScheduler{}
	q := New[string]("test", "drain-queue", testConfig(), sched)

	assert.NoError(t, q.Put(context.Background(), "drain-queue", "idx1", "a"))
	assert.NoError(t, q.Put(context.Background(), "drain-queue", "idx1", "b"))

	assert.Equal(t, 1, sched.count(), "drain is scheduled once per new batch, not per item")
}

func TestQueuePutSchedulesImmediateDrainWhenFull(t *testing.T) {
	sched := &fakeScheduler{}
	cfg := testConfig()
	cfg.BatchSize = 2
	q := New[string]("test", "drain-queue", cfg, sched)

	assert.NoError(t, q.Put(context.Background(), "drain-queue", "idx1", "a"))
	assert.NoError(t, q.Put(context.Background(), "drain-queue", "idx1", "b"))

	// one for the initial add(index), one for the fill-triggered immediate drain
	assert.Equal(t, 2, sched.count())
}

func TestQueueDrainReturnsAndRemovesBatch(t *testing.T) {
	sched := &fakeScheduler{}
	q := New[string]("test", "drain-queue", testConfig(), sched)

	a := assert.New(t)
	a.NoError(q.Put(context.Background(), "drain-queue", "idx1", "a", "b"))

	values, ok := q.Drain(context.Background(), "idx1")
	a.True(ok)
	a.ElementsMatch([]string{"a", "b"}, values)

	// batch is gone; draining again finds nothing to do
	values, ok = q.Drain(context.Background(), "idx1")
	a.True(ok)
	a.Empty(values)
}

func TestQueueDrainUnknownIndex(t *testing.T) {
	sched := &fakeScheduler{}
	q := New[string]("test", "drain-queue", testConfig(), sched)

	values, ok := q.Drain(context.Background(), "never-put")
	assert.True(t, ok)
	assert.Nil(t, values)
}

func TestQueueDrainExcludesExpiredItems(t *testing.T) {
	sched := &fakeScheduler{}
	cfg := testConfig()
	cfg.ExpirationSeconds = 0 // everything put is immediately expired
	q := New[string]("test", "drain-queue", cfg, sched)

	assert.NoError(t, q.Put(context.Background(), "drain-queue", "idx1", "a"))
	time.Sleep(time.Millisecond)

	values, ok := q.Drain(context.Background(), "idx1")
	assert.True(t, ok)
	assert.Empty(t, values)
}

func TestQueueNextIndexRotatesOnPeriod(t *testing.T) {
	sched := &fakeScheduler{}
	cfg := testConfig()
	cfg.BatchPeriod = time.Millisecond
	q := New[string]("test", "drain-queue", cfg, sched)

	first := q.NextIndex()
	time.Sleep(5 * time.Millisecond)
	second := q.NextIndex()

	assert.NotEqual(t, first, second)
}

func TestQueueNextIndexStableWithinPeriod(t *testing.T) {
	sched := &fakeScheduler{}
	q := New[string]("test", "drain-queue", testConfig(), sched)

	first := q.NextIndex()
	second := q.NextIndex()

	assert.Equal(t, first, second)
}
