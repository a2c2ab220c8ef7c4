package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const enqueueFeedToFetchSQL = `
INSERT INTO feeds_to_fetch (id, topic_hash, topic, source_keys, eta, fetching_failures, totally_failed, fetched, created_at)
VALUES ($1, $2, $3, $4, $5, 0, false, false, now())
ON CONFLICT (topic_hash) WHERE NOT fetched DO UPDATE
  SET source_keys = feeds_to_fetch.source_keys || EXCLUDED.source_keys
RETURNING id, topic_hash, topic, source_keys, eta, fetching_failures, totally_failed, eta_task_name, fetched, created_at`

func (q *Queries) EnqueueFeedToFetch(ctx context.Context, arg EnqueueFeedToFetchParams) (FeedToFetch, error) {
	rows, err := q.pool.Query(ctx, enqueueFeedToFetchSQL, arg.ID, arg.TopicHash, arg.Topic, arg.SourceKeys, arg.Eta)
	if err != nil {
		return FeedToFetch{}, fmt.Errorf("enqueue feed to fetch: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[FeedToFetch])
}

const claimFeedsToFetchSQL = `
UPDATE feeds_to_fetch SET fetched = true
WHERE id IN (
  SELECT id FROM feeds_to_fetch WHERE NOT fetched AND NOT totally_failed ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
)
RETURNING id, topic_hash, topic, source_keys, eta, fetching_failures, totally_failed, eta_task_name, fetched, created_at`

// ClaimFeedsToFetch pops up to limit pending fetches, marking them claimed.
// Used by the fork-join queue's batch drain (spec.md §4.3).
func (q *Queries) ClaimFeedsToFetch(ctx context.Context, limit int32) ([]FeedToFetch, error) {
	rows, err := q.pool.Query(ctx, claimFeedsToFetchSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("claim feeds to fetch: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[FeedToFetch])
}

const getFeedToFetchSQL = `
SELECT id, topic_hash, topic, source_keys, eta, fetching_failures, totally_failed, eta_task_name, fetched, created_at
FROM feeds_to_fetch WHERE topic_hash = $1 AND NOT fetched`

// GetFeedToFetch loads the live (unfetched) FeedToFetch row for a topic, so
// the puller has the row identity and eta it needs for done()/fetch_failed()
// after the fork-join queue hands it a bare topic string.
func (q *Queries) GetFeedToFetch(ctx context.Context, topicHash string) (FeedToFetch, error) {
	rows, err := q.pool.Query(ctx, getFeedToFetchSQL, topicHash)
	if err != nil {
		return FeedToFetch{}, fmt.Errorf("get feed to fetch: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[FeedToFetch])
}

// DeleteFeedToFetchIfEtaUnchanged implements spec.md §4.6 "done()": deletes
// the FeedToFetch iff its stored eta still equals the in-memory copy this
// fetch was issued against, guarding against deleting a record a concurrent
// publish re-created in the meantime.
func (q *Queries) DeleteFeedToFetchIfEtaUnchanged(ctx context.Context, id pgtype.UUID, eta pgtype.Timestamptz) (bool, error) {
	tag, err := q.pool.Exec(ctx, `DELETE FROM feeds_to_fetch WHERE id = $1 AND eta = $2`, id, eta)
	if err != nil {
		return false, fmt.Errorf("delete feed to fetch if eta unchanged: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const markFeedFetchFailedSQL = `
UPDATE feeds_to_fetch SET fetching_failures = $2, totally_failed = $3, eta = $4, fetched = false
WHERE id = $1`

// MarkFeedFetchFailed implements spec.md §4.6 "fetch_failed()": persists
// the incremented failure count and either the terminal totally_failed
// state or the next retry eta.
func (q *Queries) MarkFeedFetchFailed(ctx context.Context, arg MarkFeedFetchFailedParams) error {
	_, err := q.pool.Exec(ctx, markFeedFetchFailedSQL, arg.ID, arg.FetchingFailures, arg.TotallyFailed, arg.Eta)
	if err != nil {
		return fmt.Errorf("mark feed fetch failed: %w", err)
	}
	return nil
}

const getFeedRecordSQL = `
SELECT id, topic_hash, topic, header_footer, format, content_type, etag, last_modified, content_hash, last_updated, settings
FROM feed_records WHERE topic_hash = $1`

func (q *Queries) GetFeedRecord(ctx context.Context, topicHash string) (FeedRecord, error) {
	rows, err := q.pool.Query(ctx, getFeedRecordSQL, topicHash)
	if err != nil {
		return FeedRecord{}, fmt.Errorf("get feed record: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[FeedRecord])
}

const upsertFeedRecordSQL = `
INSERT INTO feed_records (topic_hash, topic, header_footer, format, content_type, etag, last_modified, content_hash, last_updated, settings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9)
ON CONFLICT (topic_hash) DO UPDATE SET
  header_footer = EXCLUDED.header_footer, format = EXCLUDED.format, content_type = EXCLUDED.content_type,
  etag = EXCLUDED.etag, last_modified = EXCLUDED.last_modified,
  content_hash = EXCLUDED.content_hash, last_updated = now(), settings = EXCLUDED.settings
RETURNING id, topic_hash, topic, header_footer, format, content_type, etag, last_modified, content_hash, last_updated, settings`

func (q *Queries) UpsertFeedRecord(ctx context.Context, arg UpsertFeedRecordParams) (FeedRecord, error) {
	rows, err := q.pool.Query(ctx, upsertFeedRecordSQL,
		arg.TopicHash, arg.Topic, arg.HeaderFooter, arg.Format, arg.ContentType,
		arg.Etag, arg.LastModified, arg.ContentHash, arg.Settings)
	if err != nil {
		return FeedRecord{}, fmt.Errorf("upsert feed record: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[FeedRecord])
}

const getFeedEntrySQL = `
SELECT id, topic_hash, entry_id_hash, entry_payload, entry_hash, created_at, updated_at
FROM feed_entry_records WHERE topic_hash = $1 AND entry_id_hash = $2`

func (q *Queries) GetFeedEntry(ctx context.Context, topicHash, entryIDHash string) (FeedEntryRecord, error) {
	rows, err := q.pool.Query(ctx, getFeedEntrySQL, topicHash, entryIDHash)
	if err != nil {
		return FeedEntryRecord{}, fmt.Errorf("get feed entry: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[FeedEntryRecord])
}

const getFeedEntriesSQL = `
SELECT id, topic_hash, entry_id_hash, entry_payload, entry_hash, created_at, updated_at
FROM feed_entry_records WHERE topic_hash = $1 AND entry_id_hash = ANY($2)`

// GetFeedEntries batch-loads every stored FeedEntryRecord for topicHash whose
// entry_id_hash appears in entryIDHashes, one round trip per chunk instead of
// one per entry (spec.md §4.7 step 2's "in chunks of 500").
func (q *Queries) GetFeedEntries(ctx context.Context, topicHash string, entryIDHashes []string) ([]FeedEntryRecord, error) {
	rows, err := q.pool.Query(ctx, getFeedEntriesSQL, topicHash, entryIDHashes)
	if err != nil {
		return nil, fmt.Errorf("get feed entries: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[FeedEntryRecord])
}

const upsertFeedEntrySQL = `
INSERT INTO feed_entry_records (topic_hash, entry_id_hash, entry_payload, entry_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (topic_hash, entry_id_hash) DO UPDATE SET
  entry_payload = EXCLUDED.entry_payload, entry_hash = EXCLUDED.entry_hash, updated_at = now()
RETURNING id, topic_hash, entry_id_hash, entry_payload, entry_hash, created_at, updated_at`

func (q *Queries) UpsertFeedEntry(ctx context.Context, arg UpsertFeedEntryParams) (FeedEntryRecord, error) {
	rows, err := q.pool.Query(ctx, upsertFeedEntrySQL, arg.TopicHash, arg.EntryIDHash, arg.EntryPayload, arg.EntryHash)
	if err != nil {
		return FeedEntryRecord{}, fmt.Errorf("upsert feed entry: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[FeedEntryRecord])
}
