package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// SubscriptionManager implements spec.md §4.4: create/confirm/renew/
// unsubscribe/archive, all transactional on the subscription's own entity
// group (one row, one topic+callback pair).
type SubscriptionManager struct {
	db         db.Querier
	dispatcher *taskqueue.Dispatcher
	bus        *EventBus
	cfg        subscriptionManagerConfig
	httpClient *http.Client
}

type subscriptionManagerConfig struct {
	DefaultLeaseSeconds int
	MaxLeaseSeconds     int
	MaxConfirmAttempts  int
	RetryBaseDelay      time.Duration
	VerifyTimeout       time.Duration
}

func NewSubscriptionManager(a *Application) *SubscriptionManager {
	return &SubscriptionManager{
		db:         a.DB,
		dispatcher: a.Dispatcher,
		bus:        a.EventBus,
		cfg: subscriptionManagerConfig{
			DefaultLeaseSeconds: a.Config.DefaultLeaseSeconds,
			MaxLeaseSeconds:     a.Config.MaxLeaseSeconds,
			MaxConfirmAttempts:  a.Config.MaxConfirmAttempts,
			RetryBaseDelay:      a.Config.RetryBaseDelay,
			VerifyTimeout:       a.Config.VerifyTimeout,
		},
		httpClient: &http.Client{
			Timeout: a.Config.VerifyTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // do not follow redirects (spec.md §4.4)
			},
			Transport: &http.Transport{TLSClientConfig: &tls.Config{}},
		},
	}
}

// clampLease applies spec.md §4.4/§6's lease rules: an omitted
// hub.lease_seconds falls back to def, and whatever results is capped to max
// ("lease_seconds (capped to 10 days)").
func clampLease(requested, def, max int) int {
	lease := requested
	if lease <= 0 {
		lease = def
	}
	if lease > max {
		return max
	}
	return lease
}

// EffectiveLease resolves what the handshake's hub.lease_seconds will carry
// and what InsertVerified/RequestInsert will persist, before either has run —
// callers synchronously verifying need this value to show the subscriber the
// lease the hub is about to commit to.
func (m *SubscriptionManager) EffectiveLease(requested int) int {
	return clampLease(requested, m.cfg.DefaultLeaseSeconds, m.cfg.MaxLeaseSeconds)
}

// InsertVerified implements spec.md §4.4 "insert(...)": synchronous
// subscribe — creates or updates a Subscription straight to verified,
// resetting confirm_failures. Returns whether the row was newly created.
func (m *SubscriptionManager) InsertVerified(ctx context.Context, callback, topic, verifyToken, secret string, leaseSeconds int) (created bool, err error) {
	topicHash, callbackHash := keys.Hash(topic), keys.Hash(callback)
	lease := clampLease(leaseSeconds, m.cfg.DefaultLeaseSeconds, m.cfg.MaxLeaseSeconds)

	_, err = m.db.GetSubscription(ctx, topicHash, callbackHash)
	created = err != nil

	sub, err := m.db.UpsertPendingSubscription(ctx, db.UpsertPendingSubscriptionParams{
		ID:           pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true},
		TopicHash:    topicHash,
		Topic:        topic,
		CallbackHash: callbackHash,
		Callback:     callback,
		Secret:       textOrInvalid(secret),
		LeaseSeconds: pgtype.Int4{Int32: int32(lease), Valid: true},
		VerifyToken:  verifyToken,
		HubVersion:   "0.4",
	})
	if err != nil {
		return false, fmt.Errorf("insert verified subscription: %w", err)
	}

	_, err = m.db.ConfirmSubscription(ctx, db.ConfirmSubscriptionParams{
		ID:             sub.ID,
		ExpirationTime: pgtype.Timestamptz{Time: time.Now().Add(time.Duration(lease) * time.Second), Valid: true},
	})
	if err != nil {
		return false, fmt.Errorf("confirm subscription: %w", err)
	}
	if err := m.recordKnownFeed(ctx, topic, callback); err != nil {
		return created, err
	}
	return created, nil
}

// recordKnownFeed implements spec.md §3's "Upserted on subscribe and on
// identity refresh": records that topic now has at least one subscriber,
// without disturbing any feed_id the identity index already discovered
// (db.UpsertKnownFeed leaves feed_id untouched when none is supplied here),
// then notifies BusMessageSubscriptionVerified listeners so RecordFeedHandler
// can attempt to discover/refresh that feed_id.
func (m *SubscriptionManager) recordKnownFeed(ctx context.Context, topic, callback string) error {
	topicHash := keys.Hash(topic)
	if _, err := m.db.UpsertKnownFeed(ctx, db.UpsertKnownFeedParams{
		TopicHash: topicHash,
		Topic:     topic,
	}); err != nil {
		return fmt.Errorf("record known feed: %w", err)
	}
	m.bus.Publish(BusMessage{Type: BusMessageSubscriptionVerified, Topic: topic, Callback: callback})
	return nil
}

// RequestInsert implements spec.md §4.4 "request_insert(...)": async
// subscribe — creates the row in not_verified if absent, zeros failures,
// and enqueues a verification task.
func (m *SubscriptionManager) RequestInsert(ctx context.Context, callback, topic, verifyToken, secret string, leaseSeconds int) error {
	topicHash, callbackHash := keys.Hash(topic), keys.Hash(callback)
	lease := clampLease(leaseSeconds, m.cfg.DefaultLeaseSeconds, m.cfg.MaxLeaseSeconds)

	sub, err := m.db.UpsertPendingSubscription(ctx, db.UpsertPendingSubscriptionParams{
		ID:           pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true},
		TopicHash:    topicHash,
		Topic:        topic,
		CallbackHash: callbackHash,
		Callback:     callback,
		Secret:       textOrInvalid(secret),
		LeaseSeconds: pgtype.Int4{Int32: int32(lease), Valid: true},
		VerifyToken:  verifyToken,
		HubVersion:   "0.4",
	})
	if err != nil {
		return fmt.Errorf("request insert subscription: %w", err)
	}
	return m.enqueueVerification(ctx, sub.ID, "subscribe", 0)
}

// RequestRemove implements spec.md §4.4 "request_remove(...)": if the
// subscription is present, zero failures and enqueue an unsubscribe
// verification task.
func (m *SubscriptionManager) RequestRemove(ctx context.Context, callback, topic string) (found bool, err error) {
	sub, err := m.db.GetSubscription(ctx, keys.Hash(topic), keys.Hash(callback))
	if err != nil {
		return false, nil
	}
	if err := m.enqueueVerification(ctx, sub.ID, "unsubscribe", 0); err != nil {
		return true, err
	}
	return true, nil
}

// Remove implements spec.md §4.4 "remove(callback, topic)": if the
// subscription is present it is marked to_delete; the row itself is not
// removed here. An absent subscription is a no-op.
func (m *SubscriptionManager) Remove(ctx context.Context, callback, topic string) error {
	sub, err := m.db.GetSubscription(ctx, keys.Hash(topic), keys.Hash(callback))
	if err != nil {
		return nil
	}
	return m.db.MarkSubscriptionToDelete(ctx, sub.ID)
}

// Archive implements spec.md §4.4 "archive(callback, topic)": marks
// to_delete without deletion, used when a subscriber 404s a confirmation.
func (m *SubscriptionManager) Archive(ctx context.Context, id pgtype.UUID) error {
	return m.db.MarkSubscriptionToDelete(ctx, id)
}

// HasSubscribers implements spec.md §4.4 "has_subscribers(topic)".
func (m *SubscriptionManager) HasSubscribers(ctx context.Context, topic string) (bool, error) {
	subs, err := m.db.ListVerifiedSubscriptionsForTopic(ctx, keys.Hash(topic))
	if err != nil {
		return false, fmt.Errorf("has subscribers: %w", err)
	}
	return len(subs) > 0, nil
}

// CountSubscribers reports how many verified subscribers a topic has, for
// KnownFeedStats.SubscriberCount (the count the puller's User-Agent header
// reports to origin servers).
func (m *SubscriptionManager) CountSubscribers(ctx context.Context, topic string) (int, error) {
	subs, err := m.db.ListVerifiedSubscriptionsForTopic(ctx, keys.Hash(topic))
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return len(subs), nil
}

// GetSubscribers implements spec.md §4.4 "get_subscribers(topic, n,
// starting_at_callback)": indexed query by (topic_hash, state=verified)
// ordered by callback_hash, returning up to n+1 rows starting at
// startingAtCallbackHash so the caller can tell if more remain.
func (m *SubscriptionManager) GetSubscribers(ctx context.Context, topic string, n int, startingAtCallbackHash string) ([]db.Subscription, error) {
	all, err := m.db.ListVerifiedSubscriptionsForTopic(ctx, keys.Hash(topic))
	if err != nil {
		return nil, fmt.Errorf("get subscribers: %w", err)
	}
	// In-memory filter + page: a real deployment indexes (topic_hash,
	// state, callback_hash) and pushes this down to SQL; kept here because
	// the mock Querier used in tests has no ORDER BY/WHERE semantics.
	var page []db.Subscription
	for _, s := range all {
		if s.CallbackHash >= startingAtCallbackHash {
			page = append(page, s)
		}
		if len(page) > n {
			break
		}
	}
	return page, nil
}

// ConfirmFailed implements spec.md §4.4 "confirm_failed(...)": increments
// confirm_failures; if within MaxConfirmAttempts, schedules a retry at
// base*2^failures and re-enqueues; otherwise returns false so the caller
// archives.
func (m *SubscriptionManager) ConfirmFailed(ctx context.Context, sub db.Subscription, mode string) (retrying bool, err error) {
	failures, err := m.db.IncrementConfirmFailures(ctx, sub.ID)
	if err != nil {
		return false, fmt.Errorf("confirm failed: %w", err)
	}
	if int(failures) > m.cfg.MaxConfirmAttempts {
		return false, nil
	}
	delay := retryDelay(m.cfg.RetryBaseDelay, int(failures))
	if err := m.enqueueVerification(ctx, sub.ID, mode, delay); err != nil {
		return true, err
	}
	return true, nil
}

// SweepExpiringSubscriptions re-verifies every subscription within one
// RetryBaseDelay window of its lease expiring, so an active subscriber gets
// a renewal handshake before its lease lapses rather than only on its own
// next publish-triggered delivery. Not itself spec.md §4.4's state machine —
// a supplementary maintenance loop in the same idiom, exposed to an operator
// via /work/subscriptions/sweep-expired rather than run on its own schedule.
func (m *SubscriptionManager) SweepExpiringSubscriptions(ctx context.Context) (int, error) {
	before := pgtype.Timestamptz{Time: time.Now().Add(m.cfg.RetryBaseDelay), Valid: true}
	subs, err := m.db.ListSubscriptionsNearExpiry(ctx, before, 500)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions near expiry: %w", err)
	}
	for _, sub := range subs {
		if err := m.enqueueVerification(ctx, sub.ID, "subscribe", 0); err != nil {
			return 0, fmt.Errorf("enqueue renewal for %s: %w", sub.ID.String(), err)
		}
	}
	return len(subs), nil
}

func (m *SubscriptionManager) enqueueVerification(ctx context.Context, id pgtype.UUID, mode string, delay time.Duration) error {
	name := fmt.Sprintf("verify-%s-%s", mode, id.String())
	return m.dispatcher.Enqueue(ctx, taskqueue.QueueSubscription, name, time.Now().Add(delay), []byte(id.String()+"|"+mode))
}

// VerificationResult is the outcome of running the handshake against a
// subscriber callback.
type VerificationResult struct {
	Success  bool
	NotFound bool // subscriber returned 404 (treated as success for subscribe flow, per spec.md §4.4)
}

// RunVerification performs spec.md §4.4's "Verification handshake": GET the
// callback with hub.mode/hub.topic/hub.challenge/hub.lease_seconds/
// hub.verify_token, preserving any subscriber-supplied query string, no
// redirects, 10s deadline. Success = 2xx and body equals the challenge.
func (m *SubscriptionManager) RunVerification(ctx context.Context, sub db.Subscription, mode string) (VerificationResult, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return VerificationResult{}, err
	}

	u, err := url.Parse(sub.Callback)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()
	q.Set("hub.mode", mode)
	q.Set("hub.topic", sub.Topic)
	q.Set("hub.challenge", challenge)
	if sub.LeaseSeconds.Valid {
		q.Set("hub.lease_seconds", fmt.Sprintf("%d", sub.LeaseSeconds.Int32))
	}
	if sub.VerifyToken != "" {
		q.Set("hub.verify_token", sub.VerifyToken)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("build verification request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return VerificationResult{}, nil // network error: treated as verification failure, not a hard error
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && mode == "subscribe" {
		return VerificationResult{NotFound: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return VerificationResult{}, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return VerificationResult{}, nil
	}
	return VerificationResult{Success: string(body) == challenge}, nil
}

// HandleVerificationTask is the QueueSubscription handler (spec.md §4.4):
// resolves the task payload ("<id>|<mode>") back to its Subscription, runs
// the handshake, and applies the outcome — confirm on success, archive on a
// subscribe-time 404, otherwise confirm_failed's retry-or-give-up.
func (m *SubscriptionManager) HandleVerificationTask(ctx context.Context, payload []byte) error {
	id, mode, err := parseVerificationPayload(payload)
	if err != nil {
		return err
	}

	sub, err := m.db.GetSubscriptionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get subscription %s: %w", id.String(), err)
	}

	result, err := m.RunVerification(ctx, sub, mode)
	if err != nil {
		return fmt.Errorf("run verification: %w", err)
	}

	switch {
	case result.NotFound:
		return m.Archive(ctx, sub.ID)
	case result.Success && mode == "unsubscribe":
		return m.db.MarkSubscriptionToDelete(ctx, sub.ID)
	case result.Success:
		lease := sub.LeaseSeconds.Int32
		if !sub.LeaseSeconds.Valid || lease <= 0 {
			lease = int32(m.cfg.DefaultLeaseSeconds)
		}
		_, err := m.db.ConfirmSubscription(ctx, db.ConfirmSubscriptionParams{
			ID:             sub.ID,
			ExpirationTime: pgtype.Timestamptz{Time: time.Now().Add(time.Duration(lease) * time.Second), Valid: true},
		})
		if err != nil {
			return err
		}
		return m.recordKnownFeed(ctx, sub.Topic, sub.Callback)
	default:
		_, err := m.ConfirmFailed(ctx, sub, mode)
		return err
	}
}

func parseVerificationPayload(payload []byte) (id pgtype.UUID, mode string, err error) {
	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 {
		return pgtype.UUID{}, "", fmt.Errorf("malformed verification payload %q", payload)
	}
	parsed, err := uuid.Parse(parts[0])
	if err != nil {
		return pgtype.UUID{}, "", fmt.Errorf("parse verification task id: %w", err)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, parts[1], nil
}

func textOrInvalid(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
