// Package testutil provides shared test doubles for the hub's db.Querier
// seam.
package testutil

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/mock"

	"github.com/feedrelay/hub/db"
)

// MockQuerier is a testify mock implementation of db.Querier.
type MockQuerier struct {
	mock.Mock
}

var _ db.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) GetSubscription(ctx context.Context, topicHash, callbackHash string) (db.Subscription, error) {
	args := m.Called(ctx, topicHash, callbackHash)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) GetSubscriptionByID(ctx context.Context, id pgtype.UUID) (db.Subscription, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) UpsertPendingSubscription(ctx context.Context, arg db.UpsertPendingSubscriptionParams) (db.Subscription, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) ConfirmSubscription(ctx context.Context, arg db.ConfirmSubscriptionParams) (db.Subscription, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) MarkSubscriptionToDelete(ctx context.Context, id pgtype.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) ListVerifiedSubscriptionsForTopic(ctx context.Context, topicHash string) ([]db.Subscription, error) {
	args := m.Called(ctx, topicHash)
	return args.Get(0).([]db.Subscription), args.Error(1)
}

func (m *MockQuerier) GetSubscriptionsByCallbackHashes(ctx context.Context, topicHash string, callbackHashes []string) ([]db.Subscription, error) {
	args := m.Called(ctx, topicHash, callbackHashes)
	return args.Get(0).([]db.Subscription), args.Error(1)
}

func (m *MockQuerier) IncrementConfirmFailures(ctx context.Context, id pgtype.UUID) (int32, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockQuerier) ListSubscriptionsNearExpiry(ctx context.Context, before pgtype.Timestamptz, limit int32) ([]db.Subscription, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]db.Subscription), args.Error(1)
}

func (m *MockQuerier) EnqueueFeedToFetch(ctx context.Context, arg db.EnqueueFeedToFetchParams) (db.FeedToFetch, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.FeedToFetch), args.Error(1)
}

func (m *MockQuerier) ClaimFeedsToFetch(ctx context.Context, limit int32) ([]db.FeedToFetch, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]db.FeedToFetch), args.Error(1)
}

func (m *MockQuerier) GetFeedToFetch(ctx context.Context, topicHash string) (db.FeedToFetch, error) {
	args := m.Called(ctx, topicHash)
	return args.Get(0).(db.FeedToFetch), args.Error(1)
}

func (m *MockQuerier) GetFeedRecord(ctx context.Context, topicHash string) (db.FeedRecord, error) {
	args := m.Called(ctx, topicHash)
	return args.Get(0).(db.FeedRecord), args.Error(1)
}

func (m *MockQuerier) UpsertFeedRecord(ctx context.Context, arg db.UpsertFeedRecordParams) (db.FeedRecord, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.FeedRecord), args.Error(1)
}

func (m *MockQuerier) GetFeedEntry(ctx context.Context, topicHash, entryIDHash string) (db.FeedEntryRecord, error) {
	args := m.Called(ctx, topicHash, entryIDHash)
	return args.Get(0).(db.FeedEntryRecord), args.Error(1)
}

func (m *MockQuerier) UpsertFeedEntry(ctx context.Context, arg db.UpsertFeedEntryParams) (db.FeedEntryRecord, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.FeedEntryRecord), args.Error(1)
}

func (m *MockQuerier) GetFeedEntries(ctx context.Context, topicHash string, entryIDHashes []string) ([]db.FeedEntryRecord, error) {
	args := m.Called(ctx, topicHash, entryIDHashes)
	return args.Get(0).([]db.FeedEntryRecord), args.Error(1)
}

func (m *MockQuerier) DeleteFeedToFetchIfEtaUnchanged(ctx context.Context, id pgtype.UUID, eta pgtype.Timestamptz) (bool, error) {
	args := m.Called(ctx, id, eta)
	return args.Get(0).(bool), args.Error(1)
}

func (m *MockQuerier) MarkFeedFetchFailed(ctx context.Context, arg db.MarkFeedFetchFailedParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func (m *MockQuerier) InsertEventToDeliver(ctx context.Context, arg db.InsertEventToDeliverParams) (db.EventToDeliver, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.EventToDeliver), args.Error(1)
}

func (m *MockQuerier) GetEventToDeliver(ctx context.Context, id pgtype.UUID) (db.EventToDeliver, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.EventToDeliver), args.Error(1)
}

func (m *MockQuerier) ClaimDueEvents(ctx context.Context, before pgtype.Timestamptz, limit int32) ([]db.EventToDeliver, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]db.EventToDeliver), args.Error(1)
}

func (m *MockQuerier) UpdateEventAfterAttempt(ctx context.Context, arg db.UpdateEventAfterAttemptParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func (m *MockQuerier) DeleteEventToDeliver(ctx context.Context, id pgtype.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) CommitFeedUpdate(ctx context.Context, arg db.CommitFeedUpdateParams) (db.EventToDeliver, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.EventToDeliver), args.Error(1)
}

func (m *MockQuerier) InsertDeliveryAttempt(ctx context.Context, arg db.InsertDeliveryAttemptParams) (db.DeliveryAttempt, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.DeliveryAttempt), args.Error(1)
}

func (m *MockQuerier) ListUnfinishedEvents(ctx context.Context) ([]db.EventToDeliver, error) {
	args := m.Called(ctx)
	return args.Get(0).([]db.EventToDeliver), args.Error(1)
}

func (m *MockQuerier) GetKnownFeed(ctx context.Context, topicHash string) (db.KnownFeed, error) {
	args := m.Called(ctx, topicHash)
	return args.Get(0).(db.KnownFeed), args.Error(1)
}

func (m *MockQuerier) UpsertKnownFeed(ctx context.Context, arg db.UpsertKnownFeedParams) (db.KnownFeed, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.KnownFeed), args.Error(1)
}

func (m *MockQuerier) GetKnownFeedIdentity(ctx context.Context, feedIDHash string) (db.KnownFeedIdentity, error) {
	args := m.Called(ctx, feedIDHash)
	return args.Get(0).(db.KnownFeedIdentity), args.Error(1)
}

func (m *MockQuerier) AddTopicToIdentity(ctx context.Context, feedIDHash, feedID, topic string) error {
	args := m.Called(ctx, feedIDHash, feedID, topic)
	return args.Error(0)
}

func (m *MockQuerier) RemoveTopicFromIdentity(ctx context.Context, feedIDHash, topic string) error {
	args := m.Called(ctx, feedIDHash, topic)
	return args.Error(0)
}

func (m *MockQuerier) GetOrCreatePollingMarker(ctx context.Context) (db.PollingMarker, error) {
	args := m.Called(ctx)
	return args.Get(0).(db.PollingMarker), args.Error(1)
}

func (m *MockQuerier) UpdatePollingMarker(ctx context.Context, arg db.UpdatePollingMarkerParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func (m *MockQuerier) ListKnownFeedsAfter(ctx context.Context, afterKey string, limit int32) ([]db.KnownFeed, error) {
	args := m.Called(ctx, afterKey, limit)
	return args.Get(0).([]db.KnownFeed), args.Error(1)
}

func (m *MockQuerier) GetKnownFeedStats(ctx context.Context, topicHash string) (db.KnownFeedStats, error) {
	args := m.Called(ctx, topicHash)
	return args.Get(0).(db.KnownFeedStats), args.Error(1)
}

func (m *MockQuerier) UpsertKnownFeedStats(ctx context.Context, arg db.UpsertKnownFeedStatsParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func (m *MockQuerier) EnqueueTask(ctx context.Context, arg db.EnqueueTaskParams) (db.Task, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Task), args.Error(1)
}

func (m *MockQuerier) ClaimDueTasks(ctx context.Context, queue, lockedBy string, limit int32) ([]db.Task, error) {
	args := m.Called(ctx, queue, lockedBy, limit)
	return args.Get(0).([]db.Task), args.Error(1)
}

func (m *MockQuerier) CompleteTask(ctx context.Context, id pgtype.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) ReleaseTask(ctx context.Context, id pgtype.UUID, nextEta pgtype.Timestamptz) error {
	args := m.Called(ctx, id, nextEta)
	return args.Error(0)
}
