package db

import (
	"context"
	"fmt"
)

// FeedEntryWrite is one new/updated entry to persist as part of a
// CommitFeedUpdate transaction.
type FeedEntryWrite struct {
	EntryIDHash  string
	EntryPayload []byte
	EntryHash    string
}

// CommitFeedUpdateParams bundles everything the Event Builder writes in one
// transaction (spec.md §4.7 step 5): the FeedRecord's new envelope/format,
// every new or changed FeedEntryRecord, the EventToDeliver it produced, and
// the delivery task that fans it out.
type CommitFeedUpdateParams struct {
	FeedRecord UpsertFeedRecordParams
	Entries    []FeedEntryWrite
	Event      InsertEventToDeliverParams
	Task       EnqueueTaskParams
}

// CommitFeedUpdate implements spec.md §4.7 step 5's single transaction over
// the FeedRecord entity group: update FeedRecord, write all new
// FeedEntryRecords, insert the EventToDeliver, then enqueue the delivery
// task — all or nothing. Grounded on the same pool.Begin/Commit shape as
// AddTopicToIdentity/RemoveTopicFromIdentity. Runs every write through a
// transaction-scoped *Queries (txq) so this shares the exact same
// UpsertFeedRecord/UpsertFeedEntry/InsertEventToDeliver SQL that non-
// transactional callers use, rather than keeping a second copy of it here.
func (q *Queries) CommitFeedUpdate(ctx context.Context, arg CommitFeedUpdateParams) (EventToDeliver, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return EventToDeliver{}, fmt.Errorf("commit feed update: begin: %w", err)
	}
	defer tx.Rollback(ctx)
	txq := &Queries{pool: tx}

	fr := arg.FeedRecord
	if _, err := txq.UpsertFeedRecord(ctx, fr); err != nil {
		return EventToDeliver{}, fmt.Errorf("commit feed update: upsert feed record: %w", err)
	}

	for _, e := range arg.Entries {
		if _, err := txq.UpsertFeedEntry(ctx, UpsertFeedEntryParams{
			TopicHash:    fr.TopicHash,
			EntryIDHash:  e.EntryIDHash,
			EntryPayload: e.EntryPayload,
			EntryHash:    e.EntryHash,
		}); err != nil {
			return EventToDeliver{}, fmt.Errorf("commit feed update: upsert feed entry %s: %w", e.EntryIDHash, err)
		}
	}

	event, err := txq.InsertEventToDeliver(ctx, arg.Event)
	if err != nil {
		return EventToDeliver{}, fmt.Errorf("commit feed update: insert event: %w", err)
	}

	t := arg.Task
	if _, err := tx.Exec(ctx, `
		INSERT INTO tasks (id, queue, name, eta_time, payload, attempts, done, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, false, now())
		ON CONFLICT (queue, name) WHERE NOT done DO NOTHING`,
		t.ID, t.Queue, t.Name, t.EtaTime, t.Payload); err != nil {
		return EventToDeliver{}, fmt.Errorf("commit feed update: enqueue task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return EventToDeliver{}, fmt.Errorf("commit feed update: commit: %w", err)
	}
	return event, nil
}
