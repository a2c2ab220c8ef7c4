package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/scorer"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// EventDeliverer implements spec.md §4.8: one invocation processes one
// EventToDeliver through its normal/retry state machine, paging subscribers,
// filtering through the delivery scorer, and issuing signed concurrent
// POSTs.
type EventDeliverer struct {
	db             db.Querier
	dispatcher     *taskqueue.Dispatcher
	subscriptions  *SubscriptionManager
	deliverScorer  *scorer.Scorer
	deliverSampler *scorer.Reporter
	samplers       *scorer.MultiSampler
	bus            *EventBus
	httpClient     *http.Client
	cfg            delivererConfig
}

type delivererConfig struct {
	ChunkSize           int
	MaxDeliveryAttempts int
	RetryBaseDelay      time.Duration
	DeliverTimeout      time.Duration
}

func NewEventDeliverer(a *Application, subscriptions *SubscriptionManager) *EventDeliverer {
	return &EventDeliverer{
		db:             a.DB,
		dispatcher:     a.Dispatcher,
		subscriptions:  subscriptions,
		deliverScorer:  a.DeliverScorer,
		deliverSampler: scorer.NewReporter(),
		samplers:       a.Samplers,
		bus:            a.EventBus,
		httpClient:     &http.Client{Timeout: a.Config.DeliverTimeout},
		cfg: delivererConfig{
			ChunkSize:           a.Config.DeliveryChunkSize,
			MaxDeliveryAttempts: a.Config.MaxDeliveryAttempts,
			RetryBaseDelay:      a.Config.RetryBaseDelay,
			DeliverTimeout:      a.Config.DeliverTimeout,
		},
	}
}

// deliveryResult is one subscriber's outcome for this round.
type deliveryResult struct {
	sub     db.Subscription
	success bool
}

// Deliver processes one EventToDeliver end to end (spec.md §4.8).
func (d *EventDeliverer) Deliver(ctx context.Context, eventID pgtype.UUID) error {
	event, err := d.db.GetEventToDeliver(ctx, eventID)
	if err != nil {
		return fmt.Errorf("get event to deliver: %w", err)
	}
	if event.Delivered || event.TotallyFailed {
		return nil
	}

	subs, more, err := d.nextChunk(ctx, event)
	if err != nil {
		return fmt.Errorf("next chunk: %w", err)
	}

	subs = d.applyScorer(subs)

	results := d.deliverAll(ctx, event, subs)
	d.samplers.Sample("deliver_latency", d.deliverSampler)

	return d.updateAfterRound(ctx, event, results, more)
}

// nextChunk implements spec.md §4.8 step 1.
func (d *EventDeliverer) nextChunk(ctx context.Context, event db.EventToDeliver) (subs []db.Subscription, more bool, err error) {
	if event.DeliveryMode == "retry" {
		hashes := event.FailedCallbacks
		if len(hashes) > d.cfg.ChunkSize {
			hashes = hashes[:d.cfg.ChunkSize]
		}
		if event.LastCallback.Valid {
			if i := slices.Index(hashes, event.LastCallback.String); i >= 0 {
				hashes = hashes[:i]
				more = false
			}
		}
		subs, err = d.db.GetSubscriptionsByCallbackHashes(ctx, event.TopicHash, hashes)
		return subs, more, err
	}

	start := ""
	if event.LastCallback.Valid {
		start = event.LastCallback.String
	}
	page, err := d.subscriptions.GetSubscribers(ctx, event.Topic, d.cfg.ChunkSize, start)
	if err != nil {
		return nil, false, err
	}
	more = len(page) > d.cfg.ChunkSize
	if more {
		page = page[:d.cfg.ChunkSize]
	}
	return page, more, nil
}

// applyScorer implements spec.md §4.8 step 2: denied callbacks are dropped
// from the round without being punished or credited.
func (d *EventDeliverer) applyScorer(subs []db.Subscription) []db.Subscription {
	keys := make([]string, len(subs))
	for i, s := range subs {
		keys[i] = s.Callback
	}
	verdicts := d.deliverScorer.Filter(keys)

	allowed := make([]db.Subscription, 0, len(subs))
	for i, v := range verdicts {
		if v.Allow {
			allowed = append(allowed, subs[i])
		}
	}
	return allowed
}

// deliverAll issues one async POST per subscriber (spec.md §4.8 step 3),
// using a plain bounded goroutine fan-out since deliveries here are
// independent of any shared queue state.
func (d *EventDeliverer) deliverAll(ctx context.Context, event db.EventToDeliver, subs []db.Subscription) []deliveryResult {
	results := make([]deliveryResult, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub db.Subscription) {
			defer wg.Done()
			success := d.deliverOne(ctx, event, sub)
			results[i] = deliveryResult{sub: sub, success: success}
		}(i, sub)
	}
	wg.Wait()
	return results
}

func (d *EventDeliverer) deliverOne(ctx context.Context, event db.EventToDeliver, sub db.Subscription) bool {
	deadline, cancel := context.WithTimeout(ctx, d.cfg.DeliverTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(deadline, http.MethodPost, sub.Callback, bytes.NewReader(event.Payload))
	if err != nil {
		d.recordAttempt(ctx, event.ID, sub.Callback, 0, false, err)
		return false
	}
	contentType := event.ContentType
	if contentType == "" {
		contentType = "text/xml"
	}
	req.Header.Set("Content-Type", contentType)
	secret := DeliverySecret(sub.Secret.String, sub.VerifyToken)
	req.Header.Set("X-Hub-Signature", SignPayload(secret, event.Payload))

	resp, err := d.httpClient.Do(req)
	d.deliverSampler.Add(scorer.DomainOf(sub.Callback), float64(time.Since(start).Milliseconds()))
	if err != nil {
		d.deliverScorer.Report(sub.Callback, 0, 1)
		d.recordAttempt(ctx, event.ID, sub.Callback, 0, false, err)
		return false
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success {
		d.deliverScorer.Report(sub.Callback, 1, 0)
	} else {
		d.deliverScorer.Report(sub.Callback, 0, 1)
	}
	d.recordAttempt(ctx, event.ID, sub.Callback, resp.StatusCode, success, nil)
	return success
}

func (d *EventDeliverer) recordAttempt(ctx context.Context, eventID pgtype.UUID, callback string, statusCode int, success bool, deliveryErr error) {
	params := db.InsertDeliveryAttemptParams{
		ID:        pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true},
		EventID:   eventID,
		Callback:  callback,
		Succeeded: success,
	}
	if statusCode != 0 {
		params.StatusCode = pgtype.Int4{Int32: int32(statusCode), Valid: true}
	}
	if deliveryErr != nil {
		params.Error = textOrInvalid(deliveryErr.Error())
	}
	if _, err := d.db.InsertDeliveryAttempt(ctx, params); err != nil {
		slog.Error("failed to record delivery attempt", "callback", callback, "error", err)
	}

	attemptStatus := "failed"
	if success {
		attemptStatus = "succeeded"
	}
	d.bus.Publish(BusMessage{
		Type:               BusMessageDeliveryAttempt,
		Callback:           callback,
		AttemptStatus:      attemptStatus,
		ResponseStatusCode: statusCode,
	})
}

// SweepDueEvents enqueues a delivery task for every EventToDeliver whose
// next_attempt has come due, a supplementary maintenance sweep (same idiom
// as SweepExpiringSubscriptions) exposed via /work/delivery/sweep-due for
// an operator to nudge past any task the dispatcher's own poll loop missed.
func (d *EventDeliverer) SweepDueEvents(ctx context.Context) (int, error) {
	due, err := d.db.ClaimDueEvents(ctx, pgtype.Timestamptz{Time: time.Now(), Valid: true}, 500)
	if err != nil {
		return 0, fmt.Errorf("claim due events: %w", err)
	}
	for _, event := range due {
		if err := d.enqueueDelivery(ctx, event); err != nil {
			return 0, fmt.Errorf("enqueue due event %s: %w", event.ID.String(), err)
		}
	}
	return len(due), nil
}

// ResumeUnfinishedEvents re-enqueues every EventToDeliver that was neither
// delivered nor totally failed, for a clean restart after a crash mid-round
// left a task the dispatcher's own lease-expiry won't reclaim for a while.
// Called once at startup, before the dispatcher starts polling.
func (d *EventDeliverer) ResumeUnfinishedEvents(ctx context.Context) (int, error) {
	unfinished, err := d.db.ListUnfinishedEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished events: %w", err)
	}
	for _, event := range unfinished {
		if err := d.enqueueDelivery(ctx, event); err != nil {
			return 0, fmt.Errorf("enqueue unfinished event %s: %w", event.ID.String(), err)
		}
	}
	return len(unfinished), nil
}

func (d *EventDeliverer) enqueueDelivery(ctx context.Context, event db.EventToDeliver) error {
	queue := taskqueue.QueueDelivery
	if event.DeliveryMode == "retry" {
		queue = taskqueue.QueueDeliveryRetry
	}
	name := fmt.Sprintf("deliver-resume-%s-%d", event.ID.String(), event.RetryAttempts)
	return d.dispatcher.Enqueue(ctx, queue, name, time.Now(), []byte(event.ID.String()))
}

// updateAfterRound implements spec.md §4.8 steps 5-6.
func (d *EventDeliverer) updateAfterRound(ctx context.Context, event db.EventToDeliver, results []deliveryResult, more bool) error {
	failedHashes := make(map[string]struct{})
	for _, h := range event.FailedCallbacks {
		failedHashes[h] = struct{}{}
	}
	var lastCallback string
	for _, r := range results {
		if r.sub.CallbackHash > lastCallback {
			lastCallback = r.sub.CallbackHash
		}
		if r.success {
			delete(failedHashes, r.sub.CallbackHash)
		} else {
			failedHashes[r.sub.CallbackHash] = struct{}{}
		}
	}

	failed := make([]string, 0, len(failedHashes))
	for h := range failedHashes {
		failed = append(failed, h)
	}
	sort.Strings(failed) // spec.md §9 "sorted failed-callback list"

	now := time.Now()
	if !more && len(failed) == 0 {
		return d.db.DeleteEventToDeliver(ctx, event.ID)
	}

	deliveryMode := event.DeliveryMode
	retryAttempts := event.RetryAttempts
	totallyFailed := false
	nextAttempt := now

	if !more && len(failed) > 0 {
		retryAttempts++
		if int(retryAttempts) > d.cfg.MaxDeliveryAttempts {
			totallyFailed = true
		} else {
			nextAttempt = now.Add(retryDelay(d.cfg.RetryBaseDelay, int(retryAttempts)-1))
			deliveryMode = "retry"
		}
	}

	if err := d.db.UpdateEventAfterAttempt(ctx, db.UpdateEventAfterAttemptParams{
		ID:              event.ID,
		LastCallback:    textOrInvalid(lastCallback),
		FailedCallbacks: failed,
		DeliveryMode:    deliveryMode,
		RetryAttempts:   retryAttempts,
		LastAttempt:     pgtype.Timestamptz{Time: now, Valid: true},
		NextAttempt:     pgtype.Timestamptz{Time: nextAttempt, Valid: true},
		TotallyFailed:   totallyFailed,
		Delivered:       false,
	}); err != nil {
		return fmt.Errorf("update event after attempt: %w", err)
	}

	if totallyFailed {
		return nil // terminal: not re-enqueued, persists for inspection (spec.md §4.8 step 6)
	}
	queue := taskqueue.QueueDelivery
	if deliveryMode == "retry" {
		queue = taskqueue.QueueDeliveryRetry
	}
	return d.dispatcher.Enqueue(ctx, queue, fmt.Sprintf("deliver-%s-%d", event.ID.String(), retryAttempts), nextAttempt, []byte(event.ID.String()))
}
