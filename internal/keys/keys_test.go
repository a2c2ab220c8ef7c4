package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	h := Hash("https://example.com/feed.xml")
	assert.Equal(t, "hash_", h[:5])
	assert.Len(t, h, len("hash_")+40) // sha1 hex digest is 40 chars

	assert.Equal(t, h, Hash("https://example.com/feed.xml"))
	assert.NotEqual(t, h, Hash("https://example.com/other.xml"))
}

func TestSubscriptionKey(t *testing.T) {
	a := SubscriptionKey("https://sub.example/callback", "https://pub.example/feed")
	b := SubscriptionKey("https://sub.example/callback", "https://pub.example/feed")
	assert.Equal(t, a, b)

	c := SubscriptionKey("https://sub.example/other-callback", "https://pub.example/feed")
	assert.NotEqual(t, a, c)

	// order matters: callback and topic aren't interchangeable
	swapped := SubscriptionKey("https://pub.example/feed", "https://sub.example/callback")
	assert.NotEqual(t, a, swapped)
}
