package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/testutil"
)

func newTestFeedPuller(q *testutil.MockQuerier, subs *SubscriptionManager) *FeedPuller {
	return &FeedPuller{
		db:            q,
		subscriptions: subs,
		cfg: pullerConfig{
			RetryBaseDelay: time.Second,
		},
	}
}

func TestRecordPollOutcomeSuccessResetsFailures(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("ListVerifiedSubscriptionsForTopic", mock.Anything, mock.Anything).
		Return([]db.Subscription{{}, {}}, nil)
	q.On("UpsertKnownFeedStats", mock.Anything, mock.MatchedBy(func(arg db.UpsertKnownFeedStatsParams) bool {
		return arg.SubscriberCount == 2 && arg.ConsecutiveFailures == 0 && arg.TotalSuccesses == 6
	})).Return(nil)

	subs := newTestSubscriptionManager(q)
	p := newTestFeedPuller(q, subs)

	stats := db.KnownFeedStats{ConsecutiveFailures: 3, TotalSuccesses: 5}
	p.recordPollOutcome(context.Background(), "https://pub.example/feed", "hash", stats, true)
	q.AssertExpectations(t)
}

func TestRecordPollOutcomeFailureBacksOffGeometrically(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("ListVerifiedSubscriptionsForTopic", mock.Anything, mock.Anything).
		Return([]db.Subscription{{}}, nil)

	var captured db.UpsertKnownFeedStatsParams
	q.On("UpsertKnownFeedStats", mock.Anything, mock.MatchedBy(func(arg db.UpsertKnownFeedStatsParams) bool {
		captured = arg
		return true
	})).Return(nil)

	subs := newTestSubscriptionManager(q)
	p := newTestFeedPuller(q, subs)

	stats := db.KnownFeedStats{ConsecutiveFailures: 2, TotalSuccesses: 5}
	before := time.Now()
	p.recordPollOutcome(context.Background(), "https://pub.example/feed", "hash", stats, false)

	assert.Equal(t, int32(3), captured.ConsecutiveFailures)
	assert.Equal(t, int32(5), captured.TotalSuccesses)
	assert.True(t, captured.NextPoll.Time.After(before.Add(retryDelay(time.Second, 3)-time.Second)))
}

func TestRecordPollOutcomeFallsBackToStoredCountOnError(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("ListVerifiedSubscriptionsForTopic", mock.Anything, mock.Anything).
		Return([]db.Subscription(nil), assert.AnError)
	q.On("UpsertKnownFeedStats", mock.Anything, mock.MatchedBy(func(arg db.UpsertKnownFeedStatsParams) bool {
		return arg.SubscriberCount == 7
	})).Return(nil)

	subs := newTestSubscriptionManager(q)
	p := newTestFeedPuller(q, subs)

	stats := db.KnownFeedStats{SubscriberCount: 7}
	p.recordPollOutcome(context.Background(), "https://pub.example/feed", "hash", stats, true)
	q.AssertExpectations(t)
}
