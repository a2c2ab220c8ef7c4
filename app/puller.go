package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/scorer"
	"github.com/feedrelay/hub/internal/taskqueue"
)

const maxFeedBodyBytes = 10 << 20 // oversize responses are a permanent failure (spec.md §4.6 step 6)

// errBodyTooLarge marks a fetch error as the permanent, non-retryable
// response-too-large case (spec.md §4.6 step 6), distinct from a transient
// network/HTTP failure that should go through fetch_failed's backoff.
var errBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxFeedBodyBytes)

// FeedPuller implements spec.md §4.6: for each topic in a drained batch,
// gate on the scorer and subscriber presence, issue a conditional-GET with
// a bounded redirect chase, and dispatch the result to the Event Builder or
// the fetch_failed backoff path.
type FeedPuller struct {
	db            db.Querier
	subscriptions *SubscriptionManager
	builder       *EventBuilder
	fetchScorer   *scorer.Scorer
	fetchSampler  *scorer.Reporter
	samplers      *scorer.MultiSampler
	dispatcher    *taskqueue.Dispatcher
	bus           *EventBus
	httpClient    *http.Client
	cfg           pullerConfig
}

type pullerConfig struct {
	MaxFetchAttempts int
	RetryBaseDelay   time.Duration
	MaxRedirectHops  int
	FetchTimeout     time.Duration
}

func NewFeedPuller(a *Application, subscriptions *SubscriptionManager, builder *EventBuilder) *FeedPuller {
	return &FeedPuller{
		db:            a.DB,
		subscriptions: subscriptions,
		builder:       builder,
		fetchScorer:   a.FetchScorer,
		fetchSampler:  scorer.NewReporter(),
		samplers:      a.Samplers,
		dispatcher:    a.Dispatcher,
		bus:           a.EventBus,
		httpClient: &http.Client{
			Timeout: a.Config.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg: pullerConfig{
			MaxFetchAttempts: a.Config.MaxFetchAttempts,
			RetryBaseDelay:   a.Config.RetryBaseDelay,
			MaxRedirectHops:  a.Config.MaxRedirectHops,
			FetchTimeout:     a.Config.FetchTimeout,
		},
	}
}

// PullBatch processes a drained batch of topics (spec.md §4.6 "Input: a
// batch of FeedToFetch"). The fetch scorer/sampler are flushed once the
// batch completes, per §4.6's closing step.
func (p *FeedPuller) PullBatch(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		if err := p.pullOne(ctx, topic); err != nil {
			slog.Warn("feed pull failed", "topic", topic, "error", err)
		}
	}
	p.samplers.Sample("fetch_latency", p.fetchSampler)
	return nil
}

func (p *FeedPuller) pullOne(ctx context.Context, topic string) error {
	topicHash := keys.Hash(topic)

	if v := p.fetchScorer.Filter([]string{topic})[0]; !v.Allow {
		slog.Info("fetch scorer denied topic", "topic", topic, "observed_failure_fraction", v.ObservedFailureFraction)
		return p.done(ctx, topicHash)
	}

	has, err := p.subscriptions.HasSubscribers(ctx, topic)
	if err != nil {
		return fmt.Errorf("has subscribers: %w", err)
	}
	if !has {
		return p.done(ctx, topicHash)
	}

	record, _ := p.db.GetFeedRecord(ctx, topicHash)
	stats, _ := p.db.GetKnownFeedStats(ctx, topicHash)

	start := time.Now()
	status, headers, body, err := p.fetch(ctx, topic, record, stats, 0)
	p.fetchSampler.Add(scorer.DomainOf(topic), float64(time.Since(start).Milliseconds()))

	if errors.Is(err, errBodyTooLarge) {
		// Permanent, non-retryable: drop the feed outright (spec.md §4.6
		// step 6) instead of backing off through fetch_failed.
		slog.Warn("feed fetch exceeded body size limit, dropping", "topic", topic)
		return p.done(ctx, topicHash)
	}
	if err != nil {
		p.fetchScorer.Report(topic, 0, 1)
		return p.fetchFailed(ctx, topicHash)
	}

	switch {
	case status == http.StatusNotModified:
		p.fetchScorer.Report(topic, 1, 0)
		p.recordPollOutcome(ctx, topic, topicHash, stats, true)
		return p.done(ctx, topicHash)
	case status >= 200 && status < 300:
		p.fetchScorer.Report(topic, 1, 0)
		_ = headers
		if err := p.builder.Build(ctx, topic, topicHash, record, headers, body); err != nil {
			slog.Error("event builder failed", "topic", topic, "error", err)
			p.recordPollOutcome(ctx, topic, topicHash, stats, false)
			return p.fetchFailed(ctx, topicHash)
		}
		p.bus.Publish(BusMessage{Type: BusMessageFetchCompleted, Topic: topic})
		p.recordPollOutcome(ctx, topic, topicHash, stats, true)
		return p.done(ctx, topicHash)
	default:
		p.fetchScorer.Report(topic, 0, 1)
		p.recordPollOutcome(ctx, topic, topicHash, stats, false)
		return p.fetchFailed(ctx, topicHash)
	}
}

// recordPollOutcome implements SPEC_FULL.md §C.4: geometric back-off on
// KnownFeedStats.ConsecutiveFailures, and keeps SubscriberCount (the number
// reported in the hub's User-Agent header) current. Best-effort: a write
// failure here never blocks the fetch outcome it's recording.
func (p *FeedPuller) recordPollOutcome(ctx context.Context, topic, topicHash string, stats db.KnownFeedStats, success bool) {
	count, err := p.subscriptions.CountSubscribers(ctx, topic)
	if err != nil {
		count = int(stats.SubscriberCount)
	}

	consecutiveFailures := int32(0)
	totalSuccesses := stats.TotalSuccesses
	nextPoll := time.Now()
	if success {
		totalSuccesses++
	} else {
		consecutiveFailures = stats.ConsecutiveFailures + 1
		nextPoll = time.Now().Add(retryDelay(p.cfg.RetryBaseDelay, int(consecutiveFailures)))
	}

	if err := p.db.UpsertKnownFeedStats(ctx, db.UpsertKnownFeedStatsParams{
		TopicHash:           topicHash,
		SubscriberCount:     int32(count),
		LastPolled:          pgtype.Timestamptz{Time: time.Now(), Valid: true},
		NextPoll:            pgtype.Timestamptz{Time: nextPoll, Valid: true},
		ConsecutiveFailures: consecutiveFailures,
		TotalSuccesses:      totalSuccesses,
	}); err != nil {
		slog.Warn("upsert known feed stats failed", "topic", topic, "error", err)
	}
}

// fetch issues the conditional GET and chases redirects up to
// MaxRedirectHops (spec.md §4.6 step 5 "after 7 hops, fail").
func (p *FeedPuller) fetch(ctx context.Context, topic string, record db.FeedRecord, stats db.KnownFeedStats, hop int) (status int, headers http.Header, body []byte, err error) {
	if hop > p.cfg.MaxRedirectHops {
		return 0, nil, nil, fmt.Errorf("exceeded %d redirect hops", p.cfg.MaxRedirectHops)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, topic, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache no-store max-age=1")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent(stats))
	if record.LastModified.Valid {
		req.Header.Set("If-Modified-Since", record.LastModified.String)
	}
	if record.Etag.Valid {
		req.Header.Set("If-None-Match", record.Etag.String)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("fetch %s: %w", topic, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return 0, nil, nil, fmt.Errorf("redirect with no Location header")
		}
		return p.fetch(ctx, loc, record, stats, hop+1)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes+1))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response body: %w", err)
	}
	if len(data) > maxFeedBodyBytes {
		return 0, nil, nil, errBodyTooLarge
	}
	return resp.StatusCode, resp.Header, data, nil
}

func userAgent(stats db.KnownFeedStats) string {
	return fmt.Sprintf("Public Hub (+https://github.com/feedrelay/hub; %d subscribers)", stats.SubscriberCount)
}

// done implements spec.md §4.6 "done()": deletes the FeedToFetch iff its
// stored eta is unchanged, guarding against deleting a record a concurrent
// publish re-created.
func (p *FeedPuller) done(ctx context.Context, topicHash string) error {
	ftf, err := p.db.GetFeedToFetch(ctx, topicHash)
	if err != nil {
		return nil // already claimed/deleted by another worker
	}
	_, err = p.db.DeleteFeedToFetchIfEtaUnchanged(ctx, ftf.ID, ftf.Eta)
	return err
}

// fetchFailed implements spec.md §4.6 "fetch_failed()": increments
// fetching_failures; past MaxFetchAttempts marks totally_failed, otherwise
// schedules a retry at base*2^failures on the feed-pull-retry queue.
func (p *FeedPuller) fetchFailed(ctx context.Context, topicHash string) error {
	ftf, err := p.db.GetFeedToFetch(ctx, topicHash)
	if err != nil {
		return nil
	}

	failures := ftf.FetchingFailures + 1
	totallyFailed := int(failures) > p.cfg.MaxFetchAttempts
	eta := time.Now().Add(retryDelay(p.cfg.RetryBaseDelay, int(failures)))

	if err := p.db.MarkFeedFetchFailed(ctx, db.MarkFeedFetchFailedParams{
		ID:               ftf.ID,
		FetchingFailures: failures,
		TotallyFailed:    totallyFailed,
		Eta:              pgtype.Timestamptz{Time: eta, Valid: true},
	}); err != nil {
		return fmt.Errorf("mark feed fetch failed: %w", err)
	}

	if totallyFailed {
		return nil
	}
	return p.dispatcher.Enqueue(ctx, taskqueue.QueueFeedPullRetry, "pull-retry-"+ftf.ID.String(), eta, []byte(ftf.Topic))
}
