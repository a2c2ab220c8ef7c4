package app

import (
	"context"
	"time"

	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/scorer"
)

// LatencySample mirrors scorer.Sample for the diagnostic views package,
// which has no reason to import internal/scorer directly.
type LatencySample struct {
	ValueMs float64
	At      time.Time
}

// StatsSnapshot is the read model behind spec.md §6's "/stats" diagnostic
// page: the configured scorer thresholds plus a latency reservoir snapshot
// for one URL/domain key.
type StatsSnapshot struct {
	Key                       string
	ScorerPeriod              string
	ScorerMinRequestsSec      float64
	ScorerMaxFailureFrac      float64
	FetchLatency              []LatencySample
	DeliverLatency            []LatencySample
	AmbiguousContentTypeCount int64
}

// Stats builds a StatsSnapshot for key (empty key yields an empty reservoir,
// not an error — diagnostic pages degrade gracefully).
func (a *Application) Stats(key string) StatsSnapshot {
	return StatsSnapshot{
		Key:                       key,
		ScorerPeriod:              a.Config.ScorerPeriod.String(),
		ScorerMinRequestsSec:      a.Config.ScorerMinRequestsSec,
		ScorerMaxFailureFrac:      a.Config.ScorerMaxFailureFrac,
		FetchLatency:              toLatencySamples(a.Samplers.Snapshot("fetch_latency", key)),
		DeliverLatency:            toLatencySamples(a.Samplers.Snapshot("deliver_latency", key)),
		AmbiguousContentTypeCount: a.Builder.AmbiguousContentTypeCount(),
	}
}

func toLatencySamples(samples []scorer.Sample) []LatencySample {
	out := make([]LatencySample, len(samples))
	for i, s := range samples {
		out[i] = LatencySample{ValueMs: s.Value, At: s.At}
	}
	return out
}

// TopicDetails is the read model behind spec.md §6's "/topic-details" page.
type TopicDetails struct {
	Found           bool
	Topic           string
	FeedID          string
	Format          string
	ContentType     string
	SubscriberCount int
	Aliases         []string
}

// TopicDetails resolves a topic's KnownFeed, FeedRecord, subscriber count,
// and resolved aliases for the diagnostic page.
func (a *Application) TopicDetails(ctx context.Context, topic string) (TopicDetails, error) {
	topicHash := keys.Hash(topic)
	kf, err := a.DB.GetKnownFeed(ctx, topicHash)
	if err != nil {
		return TopicDetails{Topic: topic}, nil
	}

	d := TopicDetails{Found: true, Topic: topic, FeedID: kf.FeedID.String}

	if record, err := a.DB.GetFeedRecord(ctx, topicHash); err == nil {
		d.Format = record.Format.String
		d.ContentType = record.ContentType.String
	}

	if subs, err := a.DB.ListVerifiedSubscriptionsForTopic(ctx, topicHash); err == nil {
		d.SubscriberCount = len(subs)
	}

	if kf.FeedID.Valid && kf.FeedID.String != "" {
		if ident, err := a.DB.GetKnownFeedIdentity(ctx, keys.Hash(kf.FeedID.String)); err == nil {
			d.Aliases = ident.Topics
		}
	}

	return d, nil
}

// SubscriptionDetails is the read model behind spec.md §6's
// "/subscription-details" page.
type SubscriptionDetails struct {
	Found           bool
	Callback        string
	Topic           string
	State           string
	ConfirmFailures int32
	ExpirationTime  string
}

func (a *Application) SubscriptionDetails(ctx context.Context, callback, topic string) (SubscriptionDetails, error) {
	sub, err := a.DB.GetSubscription(ctx, keys.Hash(topic), keys.Hash(callback))
	if err != nil {
		return SubscriptionDetails{Callback: callback, Topic: topic}, nil
	}
	expiration := ""
	if sub.ExpirationTime.Valid {
		expiration = sub.ExpirationTime.Time.Format(time.RFC3339)
	}
	return SubscriptionDetails{
		Found:           true,
		Callback:        callback,
		Topic:           topic,
		State:           sub.State,
		ConfirmFailures: sub.ConfirmFailures,
		ExpirationTime:  expiration,
	}, nil
}
