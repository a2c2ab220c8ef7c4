// Package keys implements the hub's key derivation: key(x) = "hash_" +
// sha1(utf8(x)), used throughout spec.md §3 for Subscription, FeedToFetch,
// FeedRecord, KnownFeed, and KnownFeedIdentity keys.
package keys

import (
	"crypto/sha1"
	"encoding/hex"
)

// Hash returns "hash_" + hex(sha1(utf8(s))), the entity-key function used
// across spec.md §3.
func Hash(s string) string {
	sum := sha1.Sum([]byte(s))
	return "hash_" + hex.EncodeToString(sum[:])
}

// SubscriptionKey is key(callback + "\n" + topic).
func SubscriptionKey(callback, topic string) string {
	return Hash(callback + "\n" + topic)
}
