package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const getOrCreatePollingMarkerSQL = `
SELECT id, singleton, next_key, sweep_start, updated_at FROM polling_markers WHERE singleton = true`

// GetOrCreatePollingMarker returns the single sweep cursor row, creating it
// on first use. The original's constructor took a spurious current_key
// parameter (spec.md §9 Open Question) that this signature intentionally
// drops.
func (q *Queries) GetOrCreatePollingMarker(ctx context.Context) (PollingMarker, error) {
	rows, err := q.pool.Query(ctx, getOrCreatePollingMarkerSQL)
	if err != nil {
		return PollingMarker{}, fmt.Errorf("get polling marker: %w", err)
	}
	marker, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[PollingMarker])
	rows.Close()
	if err == nil {
		return marker, nil
	}
	if err != pgx.ErrNoRows {
		return PollingMarker{}, fmt.Errorf("get polling marker: %w", err)
	}

	insertRows, err := q.pool.Query(ctx, `
		INSERT INTO polling_markers (id, singleton, updated_at) VALUES ($1, true, now())
		ON CONFLICT (singleton) DO NOTHING
		RETURNING id, singleton, next_key, sweep_start, updated_at`,
		pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true})
	if err != nil {
		return PollingMarker{}, fmt.Errorf("create polling marker: %w", err)
	}
	defer insertRows.Close()
	created, err := pgx.CollectExactlyOneRow(insertRows, pgx.RowToStructByName[PollingMarker])
	if err == nil {
		return created, nil
	}
	// Lost the race to another worker; read what they created.
	rows2, err2 := q.pool.Query(ctx, getOrCreatePollingMarkerSQL)
	if err2 != nil {
		return PollingMarker{}, fmt.Errorf("get polling marker after race: %w", err2)
	}
	defer rows2.Close()
	return pgx.CollectExactlyOneRow(rows2, pgx.RowToStructByName[PollingMarker])
}

const updatePollingMarkerSQL = `
UPDATE polling_markers SET next_key = $1, sweep_start = $2, updated_at = now() WHERE singleton = true`

func (q *Queries) UpdatePollingMarker(ctx context.Context, arg UpdatePollingMarkerParams) error {
	_, err := q.pool.Exec(ctx, updatePollingMarkerSQL, arg.NextKey, arg.SweepStart)
	if err != nil {
		return fmt.Errorf("update polling marker: %w", err)
	}
	return nil
}

const listKnownFeedsAfterSQL = `
SELECT topic_hash, topic, feed_id, update_time FROM known_feeds
WHERE topic_hash > $1 ORDER BY topic_hash ASC LIMIT $2`

func (q *Queries) ListKnownFeedsAfter(ctx context.Context, afterKey string, limit int32) ([]KnownFeed, error) {
	rows, err := q.pool.Query(ctx, listKnownFeedsAfterSQL, afterKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list known feeds after: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[KnownFeed])
}

const getKnownFeedStatsSQL = `
SELECT topic_hash, subscriber_count, last_polled, next_poll, consecutive_failures, total_successes, total_failures
FROM known_feed_stats WHERE topic_hash = $1`

func (q *Queries) GetKnownFeedStats(ctx context.Context, topicHash string) (KnownFeedStats, error) {
	rows, err := q.pool.Query(ctx, getKnownFeedStatsSQL, topicHash)
	if err != nil {
		return KnownFeedStats{}, fmt.Errorf("get known feed stats: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[KnownFeedStats])
}

const upsertKnownFeedStatsSQL = `
INSERT INTO known_feed_stats (topic_hash, subscriber_count, last_polled, next_poll, consecutive_failures, total_successes, total_failures)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (topic_hash) DO UPDATE SET
  subscriber_count = EXCLUDED.subscriber_count,
  last_polled = EXCLUDED.last_polled, next_poll = EXCLUDED.next_poll,
  consecutive_failures = EXCLUDED.consecutive_failures,
  total_successes = EXCLUDED.total_successes, total_failures = EXCLUDED.total_failures`

func (q *Queries) UpsertKnownFeedStats(ctx context.Context, arg UpsertKnownFeedStatsParams) error {
	_, err := q.pool.Exec(ctx, upsertKnownFeedStatsSQL,
		arg.TopicHash, arg.SubscriberCount, arg.LastPolled, arg.NextPoll, arg.ConsecutiveFailures, arg.TotalSuccesses, arg.TotalFailures)
	if err != nil {
		return fmt.Errorf("upsert known feed stats: %w", err)
	}
	return nil
}
