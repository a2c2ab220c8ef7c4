package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const eventColumns = `id, topic_hash, topic, payload, content_type, last_callback, failed_callbacks,
       delivery_mode, retry_attempts, max_failures, last_attempt, next_attempt, totally_failed, delivered, created_at`

const insertEventToDeliverSQL = `
INSERT INTO events_to_deliver
  (id, topic_hash, topic, payload, content_type, failed_callbacks, delivery_mode, retry_attempts, max_failures, next_attempt, totally_failed, delivered, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'normal', 0, $7, $8, false, false, now())
RETURNING ` + eventColumns

func (q *Queries) InsertEventToDeliver(ctx context.Context, arg InsertEventToDeliverParams) (EventToDeliver, error) {
	rows, err := q.pool.Query(ctx, insertEventToDeliverSQL,
		arg.ID, arg.TopicHash, arg.Topic, arg.Payload, arg.ContentType, arg.FailedCallbacks, arg.MaxFailures, arg.NextAttempt)
	if err != nil {
		return EventToDeliver{}, fmt.Errorf("insert event to deliver: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[EventToDeliver])
}

const getEventToDeliverSQL = `SELECT ` + eventColumns + ` FROM events_to_deliver WHERE id = $1`

func (q *Queries) GetEventToDeliver(ctx context.Context, id pgtype.UUID) (EventToDeliver, error) {
	rows, err := q.pool.Query(ctx, getEventToDeliverSQL, id)
	if err != nil {
		return EventToDeliver{}, fmt.Errorf("get event to deliver: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[EventToDeliver])
}

const claimDueEventsSQL = `
SELECT ` + eventColumns + `
FROM events_to_deliver
WHERE NOT delivered AND NOT totally_failed AND next_attempt <= $1
ORDER BY next_attempt ASC LIMIT $2 FOR UPDATE SKIP LOCKED`

func (q *Queries) ClaimDueEvents(ctx context.Context, before pgtype.Timestamptz, limit int32) ([]EventToDeliver, error) {
	rows, err := q.pool.Query(ctx, claimDueEventsSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due events: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[EventToDeliver])
}

const updateEventAfterAttemptSQL = `
UPDATE events_to_deliver SET
  last_callback = $2, failed_callbacks = $3, delivery_mode = $4, retry_attempts = $5,
  last_attempt = $6, next_attempt = $7, totally_failed = $8, delivered = $9
WHERE id = $1`

func (q *Queries) UpdateEventAfterAttempt(ctx context.Context, arg UpdateEventAfterAttemptParams) error {
	_, err := q.pool.Exec(ctx, updateEventAfterAttemptSQL,
		arg.ID, arg.LastCallback, arg.FailedCallbacks, arg.DeliveryMode, arg.RetryAttempts,
		arg.LastAttempt, arg.NextAttempt, arg.TotallyFailed, arg.Delivered)
	if err != nil {
		return fmt.Errorf("update event after attempt: %w", err)
	}
	return nil
}

// DeleteEventToDeliver implements spec.md §4.8 step 6 "delete the event
// (done)" once a normal-phase pass completes with no failures.
func (q *Queries) DeleteEventToDeliver(ctx context.Context, id pgtype.UUID) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM events_to_deliver WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event to deliver: %w", err)
	}
	return nil
}

const insertDeliveryAttemptSQL = `
INSERT INTO delivery_attempts (id, event_id, callback, attempt, status_code, succeeded, error, attempted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
RETURNING id, event_id, callback, attempt, status_code, succeeded, error, attempted_at`

func (q *Queries) InsertDeliveryAttempt(ctx context.Context, arg InsertDeliveryAttemptParams) (DeliveryAttempt, error) {
	rows, err := q.pool.Query(ctx, insertDeliveryAttemptSQL,
		arg.ID, arg.EventID, arg.Callback, arg.Attempt, arg.StatusCode, arg.Succeeded, arg.Error)
	if err != nil {
		return DeliveryAttempt{}, fmt.Errorf("insert delivery attempt: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[DeliveryAttempt])
}

const listUnfinishedEventsSQL = `SELECT ` + eventColumns + ` FROM events_to_deliver WHERE NOT delivered AND NOT totally_failed`

// ListUnfinishedEvents backs startup resume: any event that was not fully
// delivered before a restart gets its retry schedule re-armed.
func (q *Queries) ListUnfinishedEvents(ctx context.Context) ([]EventToDeliver, error) {
	rows, err := q.pool.Query(ctx, listUnfinishedEventsSQL)
	if err != nil {
		return nil, fmt.Errorf("list unfinished events: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[EventToDeliver])
}
