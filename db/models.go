// Package db is the persistence layer. Its shape (Querier interface,
// pgtype-typed rows, XParams structs) mirrors what sqlc would generate, but
// it is hand-written: this repository holds no sqlc query files and no
// generated output, and each query's SQL is a string constant in the
// *.sql.go file beside the method that runs it.
package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Subscription is one subscriber's registration for a topic: the
// PubSubHubbub "subscription" entity (spec.md DATA MODEL, Subscription).
type Subscription struct {
	ID                pgtype.UUID
	TopicHash         string
	Topic             string
	CallbackHash      string
	Callback          string
	State             string // "not_verified" | "verified" | "to_delete"
	Secret            pgtype.Text
	LeaseSeconds       pgtype.Int4
	ExpirationTime    pgtype.Timestamptz
	EventualTaskTime  pgtype.Timestamptz
	ConfirmFailures   int32
	VerifyToken       string
	HubVersion        string
	CreatedAt         pgtype.Timestamptz
	ConfirmedAt       pgtype.Timestamptz
}

// FeedToFetch represents a topic enqueued for a fetch, carrying the reason
// the fetch was requested (publisher ping vs. polling sweep). Deleted on a
// successful fetch iff its stored Eta still matches the in-memory copy
// (spec.md §4.6 "done()" guard against a concurrent re-publish).
type FeedToFetch struct {
	ID               pgtype.UUID
	TopicHash        string
	Topic            string
	SourceKeys       []string // publish-ingest sources (debugging provenance)
	Eta              pgtype.Timestamptz
	FetchingFailures int32
	TotallyFailed    bool
	EtaTaskName      string
	Fetched          bool
	CreatedAt        pgtype.Timestamptz
}

// FeedRecord is the last-known state of a polled/pinged topic: content hash,
// conditional-GET validators, format hint, and header/footer envelope cache
// (spec.md §3 FeedRecord, §4.7).
type FeedRecord struct {
	ID             pgtype.UUID
	TopicHash      string
	Topic          string
	HeaderFooter   pgtype.Text // stored envelope (everything but the entry list) for splicing new entries
	Format         pgtype.Text // "atom" | "rss" | "rdf" | "arbitrary"
	ContentType    pgtype.Text
	Etag           pgtype.Text
	LastModified   pgtype.Text
	ContentHash    pgtype.Text
	LastUpdated    pgtype.Timestamptz
	Settings       []byte // jsonb: FeedRecord.settings
}

// FeedEntryRecord is one entry (item/article) seen for a topic, keyed by the
// entry's own id hash so re-delivery is idempotent.
type FeedEntryRecord struct {
	ID           pgtype.UUID
	TopicHash    string
	EntryIDHash  string
	EntryPayload []byte // jsonb: title/link/author/content/published
	EntryHash    string
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

// EventToDeliver is a fan-out unit: one topic update paired with the set of
// subscriber callbacks still owed a delivery attempt (spec.md §3
// EventToDeliver, §4.8 state machine).
type EventToDeliver struct {
	ID              pgtype.UUID
	TopicHash       string
	Topic           string
	Payload         []byte
	ContentType     string
	LastCallback    pgtype.Text // high-water mark for the normal phase's callback_hash cursor
	FailedCallbacks []string    // JSON array, sorted by callback_hash; spec.md §9
	DeliveryMode    string      // "normal" | "retry"
	RetryAttempts   int32
	MaxFailures     int32
	LastAttempt     pgtype.Timestamptz
	NextAttempt     pgtype.Timestamptz
	TotallyFailed   bool
	Delivered       bool
	CreatedAt       pgtype.Timestamptz
}

// KnownFeed records the publisher-declared feed_id for a topic, upserted on
// subscribe and on identity refresh; never deleted (spec.md §3 KnownFeed).
type KnownFeed struct {
	TopicHash  string
	Topic      string
	FeedID     pgtype.Text
	UpdateTime pgtype.Timestamptz
}

// KnownFeedIdentity is the reverse mapping from a publisher feed_id to every
// topic URL currently known to share it (spec.md §3 KnownFeedIdentity).
type KnownFeedIdentity struct {
	FeedIDHash string
	FeedID     string
	Topics     []string
	LastUpdate pgtype.Timestamptz
}

// KnownFeedStats carries polling health for the sweep: last poll time,
// consecutive failures, and next-eligible-poll time.
type KnownFeedStats struct {
	TopicHash           string
	SubscriberCount     int32
	LastPolled          pgtype.Timestamptz
	NextPoll            pgtype.Timestamptz
	ConsecutiveFailures int32
	TotalSuccesses      int32
	TotalFailures       int32
}

// PollingMarker tracks the cursor through KnownFeed rows for the periodic
// polling sweep (spec.md §4.10).
type PollingMarker struct {
	ID          pgtype.UUID
	Singleton   bool
	NextKey     pgtype.Text
	SweepStart  pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// Task is a named, delayed, idempotent job routed to a queue lane, persisted
// so the dispatcher survives restarts (internal/taskqueue).
type Task struct {
	ID         pgtype.UUID
	Queue      string
	Name       string
	EtaTime    pgtype.Timestamptz
	Payload    []byte
	Attempts   int32
	LockedBy   pgtype.Text
	LockedAt   pgtype.Timestamptz
	Done       bool
	CreatedAt  pgtype.Timestamptz
}

// DeliveryAttempt is one HTTP delivery attempt against a subscriber
// callback, kept for diagnostics and for resuming in-flight events on
// restart.
type DeliveryAttempt struct {
	ID           pgtype.UUID
	EventID      pgtype.UUID
	Callback     string
	Attempt      int32
	StatusCode   pgtype.Int4
	Succeeded    bool
	Error        pgtype.Text
	AttemptedAt  pgtype.Timestamptz
}
