package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/taskqueue"
	"github.com/feedrelay/hub/testutil"
)

// verificationFixture builds a Subscription whose Callback points at a test
// server returning status and body for every verification GET.
func verificationFixture(t *testing.T, status int, body string) (db.Subscription, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	sub := db.Subscription{
		ID:       pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Topic:    "https://pub.example/feed",
		Callback: srv.URL + "/callback",
	}
	return sub, srv
}

func newTestSubscriptionManager(q *testutil.MockQuerier) *SubscriptionManager {
	return &SubscriptionManager{
		db:         q,
		dispatcher: taskqueue.New(q, time.Second, 1, 3),
		bus:        NewEventBus(),
		httpClient: &http.Client{},
		cfg: subscriptionManagerConfig{
			DefaultLeaseSeconds: 432000,
			MaxLeaseSeconds:     864000,
			MaxConfirmAttempts:  3,
			RetryBaseDelay:      time.Second,
			VerifyTimeout:       time.Second,
		},
	}
}

func TestRequestInsertEnqueuesVerification(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("UpsertPendingSubscription", mock.Anything, mock.Anything).
		Return(db.Subscription{ID: pgtype.UUID{Valid: true}}, nil)
	q.On("EnqueueTask", mock.Anything, mock.Anything).
		Return(db.Task{}, nil)

	m := newTestSubscriptionManager(q)
	err := m.RequestInsert(context.Background(), "https://sub.example/cb", "https://pub.example/feed", "tok", "sec", 0)
	assert.NoError(t, err)
	q.AssertExpectations(t)
}

func TestRequestRemoveFoundEnqueuesVerification(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("GetSubscription", mock.Anything, keys.Hash("https://pub.example/feed"), keys.Hash("https://sub.example/cb")).
		Return(db.Subscription{ID: pgtype.UUID{Valid: true}}, nil)
	q.On("EnqueueTask", mock.Anything, mock.Anything).
		Return(db.Task{}, nil)

	m := newTestSubscriptionManager(q)
	found, err := m.RequestRemove(context.Background(), "https://sub.example/cb", "https://pub.example/feed")
	assert.NoError(t, err)
	assert.True(t, found)
	q.AssertExpectations(t)
}

func TestRequestRemoveNotFound(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("GetSubscription", mock.Anything, mock.Anything, mock.Anything).
		Return(db.Subscription{}, assert.AnError)

	m := newTestSubscriptionManager(q)
	found, err := m.RequestRemove(context.Background(), "https://sub.example/cb", "https://pub.example/feed")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveMarksToDeleteWhenPresent(t *testing.T) {
	id := pgtype.UUID{Valid: true}
	q := &testutil.MockQuerier{}
	q.On("GetSubscription", mock.Anything, mock.Anything, mock.Anything).
		Return(db.Subscription{ID: id}, nil)
	q.On("MarkSubscriptionToDelete", mock.Anything, id).Return(nil)

	m := newTestSubscriptionManager(q)
	assert.NoError(t, m.Remove(context.Background(), "cb", "topic"))
	q.AssertExpectations(t)
}

func TestRemoveNoopWhenAbsent(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("GetSubscription", mock.Anything, mock.Anything, mock.Anything).
		Return(db.Subscription{}, assert.AnError)

	m := newTestSubscriptionManager(q)
	assert.NoError(t, m.Remove(context.Background(), "cb", "topic"))
	q.AssertNotCalled(t, "MarkSubscriptionToDelete", mock.Anything, mock.Anything)
}

func TestHasSubscribers(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("ListVerifiedSubscriptionsForTopic", mock.Anything, keys.Hash("topic")).
		Return([]db.Subscription{{}}, nil)

	m := newTestSubscriptionManager(q)
	has, err := m.HasSubscribers(context.Background(), "topic")
	assert.NoError(t, err)
	assert.True(t, has)
}

func TestGetSubscribersPagesByCallbackHash(t *testing.T) {
	all := []db.Subscription{
		{CallbackHash: "a"}, {CallbackHash: "b"}, {CallbackHash: "c"}, {CallbackHash: "d"},
	}
	q := &testutil.MockQuerier{}
	q.On("ListVerifiedSubscriptionsForTopic", mock.Anything, mock.Anything).
		Return(all, nil)

	m := newTestSubscriptionManager(q)
	page, err := m.GetSubscribers(context.Background(), "topic", 2, "b")
	assert.NoError(t, err)
	assert.Equal(t, []db.Subscription{{CallbackHash: "b"}, {CallbackHash: "c"}, {CallbackHash: "d"}}, page)
}

func TestConfirmFailedRetriesWithinLimit(t *testing.T) {
	id := pgtype.UUID{Valid: true}
	q := &testutil.MockQuerier{}
	q.On("IncrementConfirmFailures", mock.Anything, id).Return(int32(1), nil)
	q.On("EnqueueTask", mock.Anything, mock.Anything).Return(db.Task{}, nil)

	m := newTestSubscriptionManager(q)
	retrying, err := m.ConfirmFailed(context.Background(), db.Subscription{ID: id}, "subscribe")
	assert.NoError(t, err)
	assert.True(t, retrying)
}

func TestConfirmFailedGivesUpPastMaxAttempts(t *testing.T) {
	id := pgtype.UUID{Valid: true}
	q := &testutil.MockQuerier{}
	q.On("IncrementConfirmFailures", mock.Anything, id).Return(int32(4), nil)

	m := newTestSubscriptionManager(q)
	retrying, err := m.ConfirmFailed(context.Background(), db.Subscription{ID: id}, "subscribe")
	assert.NoError(t, err)
	assert.False(t, retrying)
	q.AssertNotCalled(t, "EnqueueTask", mock.Anything, mock.Anything)
}

func TestHandleVerificationTaskArchivesOn404(t *testing.T) {
	sub, srv := verificationFixture(t, 404, "")
	defer srv.Close()

	q := &testutil.MockQuerier{}
	q.On("GetSubscriptionByID", mock.Anything, sub.ID).Return(sub, nil)
	q.On("MarkSubscriptionToDelete", mock.Anything, sub.ID).Return(nil)

	m := newTestSubscriptionManager(q)
	payload := []byte(sub.ID.String() + "|subscribe")
	assert.NoError(t, m.HandleVerificationTask(context.Background(), payload))
	q.AssertExpectations(t)
}
