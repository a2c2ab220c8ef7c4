package db

import "github.com/jackc/pgx/v5/pgtype"

type UpsertPendingSubscriptionParams struct {
	ID           pgtype.UUID
	TopicHash    string
	Topic        string
	CallbackHash string
	Callback     string
	Secret       pgtype.Text
	LeaseSeconds pgtype.Int4
	VerifyToken  string
	HubVersion   string
}

type ConfirmSubscriptionParams struct {
	ID             pgtype.UUID
	ExpirationTime pgtype.Timestamptz
}

type EnqueueFeedToFetchParams struct {
	ID         pgtype.UUID
	TopicHash  string
	Topic      string
	SourceKeys []string
	Eta        pgtype.Timestamptz
}

type UpsertFeedRecordParams struct {
	TopicHash    string
	Topic        string
	HeaderFooter pgtype.Text
	Format       pgtype.Text
	ContentType  pgtype.Text
	Etag         pgtype.Text
	LastModified pgtype.Text
	ContentHash  pgtype.Text
	Settings     []byte
}

type MarkFeedFetchFailedParams struct {
	ID             pgtype.UUID
	FetchingFailures int32
	TotallyFailed  bool
	Eta            pgtype.Timestamptz
}

type UpsertFeedEntryParams struct {
	TopicHash    string
	EntryIDHash  string
	EntryPayload []byte
	EntryHash    string
}

type InsertEventToDeliverParams struct {
	ID              pgtype.UUID
	TopicHash       string
	Topic           string
	Payload         []byte
	ContentType     string
	FailedCallbacks []string
	MaxFailures     int32
	NextAttempt     pgtype.Timestamptz
}

type UpdateEventAfterAttemptParams struct {
	ID              pgtype.UUID
	LastCallback    pgtype.Text
	FailedCallbacks []string
	DeliveryMode    string
	RetryAttempts   int32
	LastAttempt     pgtype.Timestamptz
	NextAttempt     pgtype.Timestamptz
	TotallyFailed   bool
	Delivered       bool
}

type InsertDeliveryAttemptParams struct {
	ID         pgtype.UUID
	EventID    pgtype.UUID
	Callback   string
	Attempt    int32
	StatusCode pgtype.Int4
	Succeeded  bool
	Error      pgtype.Text
}

type UpsertKnownFeedParams struct {
	TopicHash string
	Topic     string
	FeedID    pgtype.Text
}

type UpdatePollingMarkerParams struct {
	NextKey    pgtype.Text
	SweepStart pgtype.Timestamptz
}

type UpsertKnownFeedStatsParams struct {
	TopicHash           string
	SubscriberCount     int32
	LastPolled          pgtype.Timestamptz
	NextPoll            pgtype.Timestamptz
	ConsecutiveFailures int32
	TotalSuccesses      int32
	TotalFailures       int32
}

type EnqueueTaskParams struct {
	ID      pgtype.UUID
	Queue   string
	Name    string
	EtaTime pgtype.Timestamptz
	Payload []byte
}
