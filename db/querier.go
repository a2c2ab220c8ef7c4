package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the full set of persistence operations the hub's components
// depend on. Components take a Querier, never a *pgxpool.Pool directly, so
// tests can substitute testutil's mock implementation.
type Querier interface {
	// Subscription Manager (spec.md §4.4)
	GetSubscription(ctx context.Context, topicHash, callbackHash string) (Subscription, error)
	GetSubscriptionByID(ctx context.Context, id pgtype.UUID) (Subscription, error)
	UpsertPendingSubscription(ctx context.Context, arg UpsertPendingSubscriptionParams) (Subscription, error)
	ConfirmSubscription(ctx context.Context, arg ConfirmSubscriptionParams) (Subscription, error)
	MarkSubscriptionToDelete(ctx context.Context, id pgtype.UUID) error
	ListVerifiedSubscriptionsForTopic(ctx context.Context, topicHash string) ([]Subscription, error)
	GetSubscriptionsByCallbackHashes(ctx context.Context, topicHash string, callbackHashes []string) ([]Subscription, error)
	IncrementConfirmFailures(ctx context.Context, id pgtype.UUID) (int32, error)
	ListSubscriptionsNearExpiry(ctx context.Context, before pgtype.Timestamptz, limit int32) ([]Subscription, error)

	// Publish Ingester (spec.md §4.5)
	EnqueueFeedToFetch(ctx context.Context, arg EnqueueFeedToFetchParams) (FeedToFetch, error)
	ClaimFeedsToFetch(ctx context.Context, limit int32) ([]FeedToFetch, error)

	// Feed Puller (spec.md §4.6)
	GetFeedToFetch(ctx context.Context, topicHash string) (FeedToFetch, error)
	GetFeedRecord(ctx context.Context, topicHash string) (FeedRecord, error)
	UpsertFeedRecord(ctx context.Context, arg UpsertFeedRecordParams) (FeedRecord, error)
	GetFeedEntry(ctx context.Context, topicHash, entryIDHash string) (FeedEntryRecord, error)
	GetFeedEntries(ctx context.Context, topicHash string, entryIDHashes []string) ([]FeedEntryRecord, error)
	UpsertFeedEntry(ctx context.Context, arg UpsertFeedEntryParams) (FeedEntryRecord, error)
	DeleteFeedToFetchIfEtaUnchanged(ctx context.Context, id pgtype.UUID, eta pgtype.Timestamptz) (bool, error)
	MarkFeedFetchFailed(ctx context.Context, arg MarkFeedFetchFailedParams) error

	// Event Builder / Event Deliverer (spec.md §4.7, §4.8)
	InsertEventToDeliver(ctx context.Context, arg InsertEventToDeliverParams) (EventToDeliver, error)
	GetEventToDeliver(ctx context.Context, id pgtype.UUID) (EventToDeliver, error)
	ClaimDueEvents(ctx context.Context, before pgtype.Timestamptz, limit int32) ([]EventToDeliver, error)
	UpdateEventAfterAttempt(ctx context.Context, arg UpdateEventAfterAttemptParams) error
	DeleteEventToDeliver(ctx context.Context, id pgtype.UUID) error
	CommitFeedUpdate(ctx context.Context, arg CommitFeedUpdateParams) (EventToDeliver, error)
	InsertDeliveryAttempt(ctx context.Context, arg InsertDeliveryAttemptParams) (DeliveryAttempt, error)
	ListUnfinishedEvents(ctx context.Context) ([]EventToDeliver, error)

	// Feed Identity Index (spec.md §4.9)
	GetKnownFeed(ctx context.Context, topicHash string) (KnownFeed, error)
	UpsertKnownFeed(ctx context.Context, arg UpsertKnownFeedParams) (KnownFeed, error)
	GetKnownFeedIdentity(ctx context.Context, feedIDHash string) (KnownFeedIdentity, error)
	AddTopicToIdentity(ctx context.Context, feedIDHash, feedID, topic string) error
	RemoveTopicFromIdentity(ctx context.Context, feedIDHash, topic string) error

	// Polling Sweep (spec.md §4.10)
	GetOrCreatePollingMarker(ctx context.Context) (PollingMarker, error)
	UpdatePollingMarker(ctx context.Context, arg UpdatePollingMarkerParams) error
	ListKnownFeedsAfter(ctx context.Context, afterKey string, limit int32) ([]KnownFeed, error)
	GetKnownFeedStats(ctx context.Context, topicHash string) (KnownFeedStats, error)
	UpsertKnownFeedStats(ctx context.Context, arg UpsertKnownFeedStatsParams) error

	// Task dispatcher (internal/taskqueue)
	EnqueueTask(ctx context.Context, arg EnqueueTaskParams) (Task, error)
	ClaimDueTasks(ctx context.Context, queue, lockedBy string, limit int32) ([]Task, error)
	CompleteTask(ctx context.Context, id pgtype.UUID) error
	ReleaseTask(ctx context.Context, id pgtype.UUID, nextEta pgtype.Timestamptz) error
}
