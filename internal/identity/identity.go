// Package identity implements the feed-identity index (spec.md §4.9):
// a topic_url <-> feed_id bidirectional mapping that lets one publish ping
// expand to every alias URL subscribers actually used.
package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
)

// MaxDerivedTopics caps how many aliases a single input topic may expand
// to, guarding against a runaway KnownFeedIdentity (spec.md §4.9 "25-alias
// safety cap, logged if exceeded").
const MaxDerivedTopics = 25

// Index is the feed-identity index.
type Index struct {
	db db.Querier
}

func New(q db.Querier) *Index {
	return &Index{db: q}
}

// Update records that feedID now covers topic, transactionally appending it
// to the identity's topic set (spec.md §4.9 "update(feed_id, topic)").
func (idx *Index) Update(ctx context.Context, feedID, topic string) error {
	if err := idx.db.AddTopicToIdentity(ctx, keys.Hash(feedID), feedID, topic); err != nil {
		return fmt.Errorf("identity update: %w", err)
	}
	return nil
}

// Remove drops topic from feedID's identity, deleting the identity row if
// its topic set empties (spec.md §4.9 "remove(feed_id, topic)").
func (idx *Index) Remove(ctx context.Context, feedID, topic string) error {
	if err := idx.db.RemoveTopicFromIdentity(ctx, keys.Hash(feedID), topic); err != nil {
		return fmt.Errorf("identity remove: %w", err)
	}
	return nil
}

// DeriveAdditionalTopics expands each input topic to its known aliases
// (spec.md §4.9 "derive_additional_topics(topics)"):
//   - topic has a KnownFeed with a non-empty feed_id: the full alias set
//     under that feed_id's identity (capped at MaxDerivedTopics).
//   - topic has a KnownFeed but no feed_id: maps to {topic} alone.
//   - topic has no KnownFeed at all: omitted entirely.
func (idx *Index) DeriveAdditionalTopics(ctx context.Context, topics []string) (map[string][]string, error) {
	out := make(map[string][]string, len(topics))
	for _, topic := range topics {
		kf, err := idx.db.GetKnownFeed(ctx, keys.Hash(topic))
		if err != nil {
			continue // no KnownFeed: omitted entirely
		}
		if !kf.FeedID.Valid || kf.FeedID.String == "" {
			out[topic] = []string{topic}
			continue
		}

		ident, err := idx.db.GetKnownFeedIdentity(ctx, keys.Hash(kf.FeedID.String))
		if err != nil {
			out[topic] = []string{topic}
			continue
		}

		aliases := ident.Topics
		if len(aliases) > MaxDerivedTopics {
			slog.Warn("feed identity alias cap exceeded",
				"feed_id", kf.FeedID.String, "topic", topic,
				"alias_count", len(aliases), "cap", MaxDerivedTopics)
			aliases = aliases[:MaxDerivedTopics]
		}
		out[topic] = aliases
	}
	return out, nil
}
