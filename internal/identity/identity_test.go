package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/testutil"
)

func TestUpdateAddsTopicToIdentity(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("AddTopicToIdentity", mock.Anything, keys.Hash("feed-1"), "feed-1", "https://example.com/a").Return(nil)

	idx := New(q)
	assert.NoError(t, idx.Update(context.Background(), "feed-1", "https://example.com/a"))
	q.AssertExpectations(t)
}

func TestRemoveDropsTopicFromIdentity(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("RemoveTopicFromIdentity", mock.Anything, keys.Hash("feed-1"), "https://example.com/a").Return(nil)

	idx := New(q)
	assert.NoError(t, idx.Remove(context.Background(), "feed-1", "https://example.com/a"))
	q.AssertExpectations(t)
}

func TestDeriveAdditionalTopicsNoKnownFeedOmitsTopic(t *testing.T) {
	q := &testutil.MockQuerier{}
	q.On("GetKnownFeed", mock.Anything, keys.Hash("https://unknown.example/feed")).
		Return(db.KnownFeed{}, errors.New("not found"))

	idx := New(q)
	out, err := idx.DeriveAdditionalTopics(context.Background(), []string{"https://unknown.example/feed"})
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeriveAdditionalTopicsKnownFeedWithoutFeedID(t *testing.T) {
	topic := "https://example.com/no-feed-id"
	q := &testutil.MockQuerier{}
	q.On("GetKnownFeed", mock.Anything, keys.Hash(topic)).
		Return(db.KnownFeed{TopicHash: keys.Hash(topic), Topic: topic}, nil)

	idx := New(q)
	out, err := idx.DeriveAdditionalTopics(context.Background(), []string{topic})
	assert.NoError(t, err)
	assert.Equal(t, map[string][]string{topic: {topic}}, out)
}

func TestDeriveAdditionalTopicsExpandsAliasSet(t *testing.T) {
	topic := "https://example.com/alias-a"
	feedID := "feed-xyz"
	aliases := []string{"https://example.com/alias-a", "https://example.com/alias-b"}

	q := &testutil.MockQuerier{}
	q.On("GetKnownFeed", mock.Anything, keys.Hash(topic)).
		Return(db.KnownFeed{TopicHash: keys.Hash(topic), Topic: topic, FeedID: pgtype.Text{String: feedID, Valid: true}}, nil)
	q.On("GetKnownFeedIdentity", mock.Anything, keys.Hash(feedID)).
		Return(db.KnownFeedIdentity{FeedIDHash: keys.Hash(feedID), FeedID: feedID, Topics: aliases}, nil)

	idx := New(q)
	out, err := idx.DeriveAdditionalTopics(context.Background(), []string{topic})
	assert.NoError(t, err)
	assert.Equal(t, map[string][]string{topic: aliases}, out)
}

func TestDeriveAdditionalTopicsCapsAliasCount(t *testing.T) {
	topic := "https://example.com/alias-a"
	feedID := "feed-xyz"
	aliases := make([]string, MaxDerivedTopics+10)
	for i := range aliases {
		aliases[i] = topic
	}

	q := &testutil.MockQuerier{}
	q.On("GetKnownFeed", mock.Anything, keys.Hash(topic)).
		Return(db.KnownFeed{TopicHash: keys.Hash(topic), Topic: topic, FeedID: pgtype.Text{String: feedID, Valid: true}}, nil)
	q.On("GetKnownFeedIdentity", mock.Anything, keys.Hash(feedID)).
		Return(db.KnownFeedIdentity{FeedIDHash: keys.Hash(feedID), FeedID: feedID, Topics: aliases}, nil)

	idx := New(q)
	out, err := idx.DeriveAdditionalTopics(context.Background(), []string{topic})
	assert.NoError(t, err)
	assert.Len(t, out[topic], MaxDerivedTopics)
}

func TestDeriveAdditionalTopicsIdentityLookupFailureFallsBackToTopicItself(t *testing.T) {
	topic := "https://example.com/dangling"
	feedID := "feed-gone"

	q := &testutil.MockQuerier{}
	q.On("GetKnownFeed", mock.Anything, keys.Hash(topic)).
		Return(db.KnownFeed{TopicHash: keys.Hash(topic), Topic: topic, FeedID: pgtype.Text{String: feedID, Valid: true}}, nil)
	q.On("GetKnownFeedIdentity", mock.Anything, keys.Hash(feedID)).
		Return(db.KnownFeedIdentity{}, errors.New("identity row missing"))

	idx := New(q)
	out, err := idx.DeriveAdditionalTopics(context.Background(), []string{topic})
	assert.NoError(t, err)
	assert.Equal(t, map[string][]string{topic: {topic}}, out)
}
