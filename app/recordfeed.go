package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// recordFeedBodyLimit bounds the identity-extraction fetch the same way the
// puller bounds its own (spec.md §4.6 step 6's permanent-failure threshold).
const recordFeedBodyLimit = 10 << 20

// RecordFeed implements spec.md §4.9's RecordFeedHandler: on a newly-verified
// subscribe, (re)discover a topic's self-declared feed_id and keep the
// KnownFeed/KnownFeedIdentity mappings current.
type RecordFeed struct {
	db         db.Querier
	dispatcher *taskqueue.Dispatcher
	httpClient *http.Client
	freshness  time.Duration
}

func NewRecordFeed(a *Application) *RecordFeed {
	return &RecordFeed{
		db:         a.DB,
		dispatcher: a.Dispatcher,
		httpClient: &http.Client{
			Timeout: a.Config.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		freshness: a.Config.FeedIdentityFreshness,
	}
}

// Handle is the QueueRecordFeed handler: payload is the bare topic URL.
func (r *RecordFeed) Handle(ctx context.Context, payload []byte) error {
	topic := string(payload)
	topicHash := keys.Hash(topic)

	kf, err := r.db.GetKnownFeed(ctx, topicHash)
	if err != nil {
		return nil // nothing recorded yet to refresh; recordKnownFeed runs before this is enqueued
	}
	if kf.UpdateTime.Valid && time.Since(kf.UpdateTime.Time) < r.freshness {
		return nil // fresh enough: no-op (spec.md §4.9)
	}

	body, err := r.fetch(ctx, topic)
	if err != nil {
		return nil // give up silently: a fetch failure here just means no identity update this round
	}

	feedID, ok := ExtractFeedID(body)
	if !ok {
		return nil // format-specific extraction failed: no identity to record
	}

	oldFeedID := kf.FeedID.String
	if oldFeedID != "" && oldFeedID != feedID {
		if err := r.enqueueMapping(ctx, "remove", oldFeedID, topic); err != nil {
			return fmt.Errorf("enqueue identity removal: %w", err)
		}
	}
	if oldFeedID != feedID {
		if err := r.enqueueMapping(ctx, "add", feedID, topic); err != nil {
			return fmt.Errorf("enqueue identity addition: %w", err)
		}
	}

	if _, err := r.db.UpsertKnownFeed(ctx, db.UpsertKnownFeedParams{
		TopicHash: topicHash,
		Topic:     topic,
		FeedID:    textOrInvalid(feedID),
	}); err != nil {
		return fmt.Errorf("upsert known feed: %w", err)
	}
	return nil
}

func (r *RecordFeed) enqueueMapping(ctx context.Context, op, feedID, topic string) error {
	name := fmt.Sprintf("mapping-%s-%s-%s", op, keys.Hash(feedID), keys.Hash(topic))
	return r.dispatcher.Enqueue(ctx, taskqueue.QueueMappings, name, time.Now(), []byte(op+"|"+feedID+"|"+topic))
}

func (r *RecordFeed) fetch(ctx context.Context, topic string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, topic, nil)
	if err != nil {
		return nil, fmt.Errorf("build identity fetch request: %w", err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", topic, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", topic, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, recordFeedBodyLimit+1))
	if err != nil {
		return nil, fmt.Errorf("read identity fetch body: %w", err)
	}
	if len(data) > recordFeedBodyLimit {
		return nil, fmt.Errorf("identity fetch body exceeds %d bytes", recordFeedBodyLimit)
	}
	return data, nil
}
