package db

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

const getKnownFeedSQL = `
SELECT topic_hash, topic, feed_id, update_time FROM known_feeds WHERE topic_hash = $1`

func (q *Queries) GetKnownFeed(ctx context.Context, topicHash string) (KnownFeed, error) {
	rows, err := q.pool.Query(ctx, getKnownFeedSQL, topicHash)
	if err != nil {
		return KnownFeed{}, fmt.Errorf("get known feed: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[KnownFeed])
}

const upsertKnownFeedSQL = `
INSERT INTO known_feeds (topic_hash, topic, feed_id, update_time)
VALUES ($1, $2, $3, now())
ON CONFLICT (topic_hash) DO UPDATE SET
  feed_id = COALESCE(EXCLUDED.feed_id, known_feeds.feed_id), update_time = now()
RETURNING topic_hash, topic, feed_id, update_time`

// UpsertKnownFeed implements spec.md §3's KnownFeed upsert. A caller with no
// feed_id to offer (e.g. subscribe-time recording) passes an invalid FeedID,
// which COALESCE leaves untouched rather than clobbering a feed_id the
// identity index already discovered (spec.md §4.9).
func (q *Queries) UpsertKnownFeed(ctx context.Context, arg UpsertKnownFeedParams) (KnownFeed, error) {
	rows, err := q.pool.Query(ctx, upsertKnownFeedSQL, arg.TopicHash, arg.Topic, arg.FeedID)
	if err != nil {
		return KnownFeed{}, fmt.Errorf("upsert known feed: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[KnownFeed])
}

const getKnownFeedIdentitySQL = `
SELECT feed_id_hash, feed_id, topics, last_update FROM known_feed_identities WHERE feed_id_hash = $1`

func (q *Queries) GetKnownFeedIdentity(ctx context.Context, feedIDHash string) (KnownFeedIdentity, error) {
	rows, err := q.pool.Query(ctx, getKnownFeedIdentitySQL, feedIDHash)
	if err != nil {
		return KnownFeedIdentity{}, fmt.Errorf("get known feed identity: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[KnownFeedIdentity])
}

// AddTopicToIdentity appends topic to the KnownFeedIdentity keyed by
// feedIDHash if absent, bumping last_update, within one transaction — the
// entity-group-transaction analogue of spec.md §4.9 "update(feed_id,
// topic)".
func (q *Queries) AddTopicToIdentity(ctx context.Context, feedIDHash, feedID, topic string) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("add topic to identity: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var topics []string
	err = tx.QueryRow(ctx, `SELECT topics FROM known_feed_identities WHERE feed_id_hash = $1 FOR UPDATE`, feedIDHash).Scan(&topics)
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("add topic to identity: select: %w", err)
	}
	if slices.Contains(topics, topic) {
		return tx.Commit(ctx)
	}
	topics = append(topics, topic)

	_, err = tx.Exec(ctx, `
		INSERT INTO known_feed_identities (feed_id_hash, feed_id, topics, last_update)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (feed_id_hash) DO UPDATE SET topics = EXCLUDED.topics, last_update = now()`,
		feedIDHash, feedID, topics)
	if err != nil {
		return fmt.Errorf("add topic to identity: upsert: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveTopicFromIdentity drops topic from the identity's topic set,
// deleting the row entirely once it empties (spec.md §4.9 "remove(feed_id,
// topic)").
func (q *Queries) RemoveTopicFromIdentity(ctx context.Context, feedIDHash, topic string) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("remove topic from identity: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var topics []string
	err = tx.QueryRow(ctx, `SELECT topics FROM known_feed_identities WHERE feed_id_hash = $1 FOR UPDATE`, feedIDHash).Scan(&topics)
	if err == pgx.ErrNoRows {
		return tx.Commit(ctx)
	}
	if err != nil {
		return fmt.Errorf("remove topic from identity: select: %w", err)
	}
	topics = slices.DeleteFunc(topics, func(t string) bool { return t == topic })

	if len(topics) == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM known_feed_identities WHERE feed_id_hash = $1`, feedIDHash)
	} else {
		_, err = tx.Exec(ctx, `UPDATE known_feed_identities SET topics = $2, last_update = now() WHERE feed_id_hash = $1`, feedIDHash, topics)
	}
	if err != nil {
		return fmt.Errorf("remove topic from identity: write: %w", err)
	}
	return tx.Commit(ctx)
}
