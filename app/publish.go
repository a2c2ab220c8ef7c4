package app

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/identity"
	"github.com/feedrelay/hub/internal/keys"
)

// allowedTopicPorts implements spec.md §6's topic port whitelist, skipped
// entirely in dev mode so a local feed server on an arbitrary port can still
// be published.
var allowedTopicPorts = map[string]struct{}{
	"80": {}, "443": {}, "4443": {},
	"8080": {}, "8081": {}, "8082": {}, "8083": {}, "8084": {},
	"8085": {}, "8086": {}, "8087": {}, "8088": {}, "8089": {},
	"8188": {}, "8444": {}, "8990": {},
}

// PublishIngester implements spec.md §4.5: validate a publisher's ping,
// expand it through the feed identity index, and enqueue a fetch for every
// resulting topic via the fork-join queue so a burst of simultaneous pings
// for aliases of the same feed coalesces into one fetch task.
type PublishIngester struct {
	db       db.Querier
	identity interface {
		DeriveAdditionalTopics(ctx context.Context, topics []string) (map[string][]string, error)
	}
	fetchQueue interface {
		NextIndex() string
		Put(ctx context.Context, queueName, index string, values ...string) error
	}
	devMode bool
}

func NewPublishIngester(a *Application) *PublishIngester {
	return &PublishIngester{
		db:         a.DB,
		identity:   a.Identity,
		fetchQueue: a.FetchQueue,
		devMode:    a.Config.DevMode,
	}
}

// ErrInvalidTopic reports a publisher-supplied URL that fails spec.md §4.5's
// scheme/fragment/port validation.
type ErrInvalidTopic struct {
	Topic  string
	Reason string
}

func (e *ErrInvalidTopic) Error() string {
	return fmt.Sprintf("invalid topic %q: %s", e.Topic, e.Reason)
}

// ValidateTopic applies spec.md §4.5/§6's URL policy: http/https scheme
// only, no fragment, host required, and (outside dev mode) a port drawn
// from the configured whitelist. Returns the normalized form.
func ValidateTopic(raw string, devMode bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ErrInvalidTopic{Topic: raw, Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ErrInvalidTopic{Topic: raw, Reason: "scheme must be http or https"}
	}
	if u.Fragment != "" {
		return "", &ErrInvalidTopic{Topic: raw, Reason: "must not contain a fragment"}
	}
	if u.Host == "" {
		return "", &ErrInvalidTopic{Topic: raw, Reason: "missing host"}
	}
	if !devMode {
		port := u.Port()
		if port == "" {
			port = strconv.Itoa(defaultPortFor(u.Scheme))
		}
		if _, ok := allowedTopicPorts[port]; !ok {
			return "", &ErrInvalidTopic{Topic: raw, Reason: "port not in the allowed set"}
		}
	}

	normalized, err := identity.NormalizeIRI(raw)
	if err != nil {
		return "", &ErrInvalidTopic{Topic: raw, Reason: "could not normalize IRI"}
	}
	return normalized, nil
}

func defaultPortFor(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// PublishResult reports the distinct topics actually enqueued after alias
// expansion. An empty list is not an error: topics with no KnownFeed are
// dropped silently.
type PublishResult struct {
	Topics []string
}

// Publish implements spec.md §4.5 "publish(urls, source)": validates each
// URL, derives every alias through the identity index, and enqueues one
// fetch per resulting topic, deduplicated and coalesced through the
// fork-join queue. queue is the dispatch lane the resulting drain task is
// routed to: taskqueue.QueueFeedPull for ordinary pings, taskqueue.QueuePolling
// when the ingester was triggered by the polling sweep, so bootstrap work
// never starves publish-driven fetches.
func (p *PublishIngester) Publish(ctx context.Context, urls []string, source, queue string) (PublishResult, error) {
	validated := make([]string, 0, len(urls))
	for _, raw := range urls {
		topic, err := ValidateTopic(raw, p.devMode)
		if err != nil {
			return PublishResult{}, err
		}
		validated = append(validated, topic)
	}

	derived, err := p.identity.DeriveAdditionalTopics(ctx, validated)
	if err != nil {
		return PublishResult{}, fmt.Errorf("derive additional topics: %w", err)
	}

	seen := make(map[string]struct{})
	var all []string
	for _, topic := range validated {
		aliases, ok := derived[topic]
		if !ok {
			continue // no KnownFeed: no subscribers could possibly exist (spec.md §4.5)
		}
		for _, alias := range aliases {
			if _, dup := seen[alias]; dup {
				continue
			}
			seen[alias] = struct{}{}
			all = append(all, alias)
		}
	}

	for _, topic := range all {
		if _, err := p.db.EnqueueFeedToFetch(ctx, db.EnqueueFeedToFetchParams{
			ID:         pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true},
			TopicHash:  keys.Hash(topic),
			Topic:      topic,
			SourceKeys: []string{source},
			Eta:        pgtype.Timestamptz{Time: time.Now(), Valid: true},
		}); err != nil {
			return PublishResult{}, fmt.Errorf("enqueue feed to fetch %q: %w", topic, err)
		}

		index := p.fetchQueue.NextIndex()
		if err := p.fetchQueue.Put(ctx, queue, index, topic); err != nil {
			return PublishResult{}, fmt.Errorf("put topic %q on fetch queue: %w", topic, err)
		}
	}

	return PublishResult{Topics: all}, nil
}

// ParseMode normalizes the publisher-facing hub.mode value: "publish" in any
// letter case becomes "publish"; every other value is returned unchanged.
func ParseMode(mode string) string {
	if strings.EqualFold(mode, "publish") {
		return "publish"
	}
	return mode
}
