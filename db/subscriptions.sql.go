package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const getSubscriptionSQL = `
SELECT id, topic_hash, topic, callback_hash, callback, state, secret,
       lease_seconds, expiration_time, eventual_task_time, confirm_failures,
       verify_token, hub_version, created_at, confirmed_at
FROM subscriptions WHERE topic_hash = $1 AND callback_hash = $2`

func (q *Queries) GetSubscription(ctx context.Context, topicHash, callbackHash string) (Subscription, error) {
	rows, err := q.pool.Query(ctx, getSubscriptionSQL, topicHash, callbackHash)
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	defer rows.Close()
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Subscription])
	if err != nil {
		return Subscription{}, err
	}
	return s, nil
}

const getSubscriptionByIDSQL = `
SELECT id, topic_hash, topic, callback_hash, callback, state, secret,
       lease_seconds, expiration_time, eventual_task_time, confirm_failures,
       verify_token, hub_version, created_at, confirmed_at
FROM subscriptions WHERE id = $1`

// GetSubscriptionByID resolves a verification task's id back to its
// Subscription row (spec.md §4.4's enqueue_verification carries only the id).
func (q *Queries) GetSubscriptionByID(ctx context.Context, id pgtype.UUID) (Subscription, error) {
	rows, err := q.pool.Query(ctx, getSubscriptionByIDSQL, id)
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription by id: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Subscription])
}

const upsertPendingSubscriptionSQL = `
INSERT INTO subscriptions
  (id, topic_hash, topic, callback_hash, callback, state, secret,
   lease_seconds, verify_token, hub_version, created_at)
VALUES ($1, $2, $3, $4, $5, 'not_verified', $6, $7, $8, $9, now())
ON CONFLICT (topic_hash, callback_hash) DO UPDATE SET
  state = 'not_verified', secret = EXCLUDED.secret, lease_seconds = EXCLUDED.lease_seconds,
  verify_token = EXCLUDED.verify_token, hub_version = EXCLUDED.hub_version
RETURNING id, topic_hash, topic, callback_hash, callback, state, secret,
          lease_seconds, expiration_time, eventual_task_time, confirm_failures,
          verify_token, hub_version, created_at, confirmed_at`

func (q *Queries) UpsertPendingSubscription(ctx context.Context, arg UpsertPendingSubscriptionParams) (Subscription, error) {
	rows, err := q.pool.Query(ctx, upsertPendingSubscriptionSQL,
		arg.ID, arg.TopicHash, arg.Topic, arg.CallbackHash, arg.Callback,
		arg.Secret, arg.LeaseSeconds, arg.VerifyToken, arg.HubVersion)
	if err != nil {
		return Subscription{}, fmt.Errorf("upsert pending subscription: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Subscription])
}

const confirmSubscriptionSQL = `
UPDATE subscriptions SET state = 'verified', expiration_time = $2, confirmed_at = now(), confirm_failures = 0
WHERE id = $1
RETURNING id, topic_hash, topic, callback_hash, callback, state, secret,
          lease_seconds, expiration_time, eventual_task_time, confirm_failures,
          verify_token, hub_version, created_at, confirmed_at`

func (q *Queries) ConfirmSubscription(ctx context.Context, arg ConfirmSubscriptionParams) (Subscription, error) {
	rows, err := q.pool.Query(ctx, confirmSubscriptionSQL, arg.ID, arg.ExpirationTime)
	if err != nil {
		return Subscription{}, fmt.Errorf("confirm subscription: %w", err)
	}
	defer rows.Close()
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Subscription])
}

func (q *Queries) MarkSubscriptionToDelete(ctx context.Context, id pgtype.UUID) error {
	_, err := q.pool.Exec(ctx, `UPDATE subscriptions SET state = 'to_delete' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark subscription to_delete: %w", err)
	}
	return nil
}

const listVerifiedSubscriptionsForTopicSQL = `
SELECT id, topic_hash, topic, callback_hash, callback, state, secret,
       lease_seconds, expiration_time, eventual_task_time, confirm_failures,
       verify_token, hub_version, created_at, confirmed_at
FROM subscriptions WHERE topic_hash = $1 AND state = 'verified'`

func (q *Queries) ListVerifiedSubscriptionsForTopic(ctx context.Context, topicHash string) ([]Subscription, error) {
	rows, err := q.pool.Query(ctx, listVerifiedSubscriptionsForTopicSQL, topicHash)
	if err != nil {
		return nil, fmt.Errorf("list verified subscriptions: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[Subscription])
}

func (q *Queries) IncrementConfirmFailures(ctx context.Context, id pgtype.UUID) (int32, error) {
	var n int32
	err := q.pool.QueryRow(ctx,
		`UPDATE subscriptions SET confirm_failures = confirm_failures + 1 WHERE id = $1 RETURNING confirm_failures`,
		id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment confirm failures: %w", err)
	}
	return n, nil
}

const getSubscriptionsByCallbackHashesSQL = `
SELECT id, topic_hash, topic, callback_hash, callback, state, secret,
       lease_seconds, expiration_time, eventual_task_time, confirm_failures,
       verify_token, hub_version, created_at, confirmed_at
FROM subscriptions WHERE topic_hash = $1 AND callback_hash = ANY($2)`

// GetSubscriptionsByCallbackHashes resolves the retry phase's
// failed_callbacks entries (spec.md §4.8 "retry: take the first chunk
// entries from failed_callbacks") back into full Subscription rows.
func (q *Queries) GetSubscriptionsByCallbackHashes(ctx context.Context, topicHash string, callbackHashes []string) ([]Subscription, error) {
	rows, err := q.pool.Query(ctx, getSubscriptionsByCallbackHashesSQL, topicHash, callbackHashes)
	if err != nil {
		return nil, fmt.Errorf("get subscriptions by callback hashes: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[Subscription])
}

const listSubscriptionsNearExpirySQL = `
SELECT id, topic_hash, topic, callback_hash, callback, state, secret,
       lease_seconds, expiration_time, eventual_task_time, confirm_failures,
       verify_token, hub_version, created_at, confirmed_at
FROM subscriptions
WHERE state = 'verified' AND expiration_time <= $1
ORDER BY expiration_time ASC LIMIT $2`

func (q *Queries) ListSubscriptionsNearExpiry(ctx context.Context, before pgtype.Timestamptz, limit int32) ([]Subscription, error) {
	rows, err := q.pool.Query(ctx, listSubscriptionsNearExpirySQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions near expiry: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[Subscription])
}
