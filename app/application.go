package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedrelay/hub/config"
	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/forkjoin"
	"github.com/feedrelay/hub/internal/identity"
	"github.com/feedrelay/hub/internal/scorer"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// Application is the hub's dependency container: every component that
// needs the DB, config, or the dispatcher takes *Application rather than
// threading each dependency individually through handler signatures.
type Application struct {
	Config     config.AppConfig
	DB         db.Querier
	Dispatcher *taskqueue.Dispatcher
	Identity   *identity.Index

	FetchScorer    *scorer.Scorer
	DeliverScorer  *scorer.Scorer
	Samplers       *scorer.MultiSampler

	FetchQueue *forkjoin.Queue[string] // topic URLs awaiting a pull, coalesced (spec.md §4.3)

	AdminSecretCache *Cache[string, bool] // memoizes bcrypt verification of a plaintext admin secret

	EventBus *EventBus

	// Components wired by main.go once Application itself is constructed,
	// since each of these takes *Application as its own dependency. Handlers
	// in api/ reach them through here rather than threading five more
	// constructor parameters through every route.
	Publisher     *PublishIngester
	Subscriptions *SubscriptionManager
	Builder       *EventBuilder
	Puller        *FeedPuller
	Deliverer     *EventDeliverer
	Polling       *PollingSweep
	RecordFeed    *RecordFeed

	dbconn *pgxpool.Pool
}

func NewApp(cfg *config.AppConfig) (*Application, error) {
	conn, err := connectToDB(cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return nil, err
	}
	queries := db.New(conn)

	dispatcher := taskqueue.New(queries, cfg.TaskPollInterval, cfg.TaskWorkersPerQueue, cfg.TaskLocalRetries)

	a := &Application{
		Config:     *cfg,
		DB:         queries,
		Dispatcher: dispatcher,
		Identity:   identity.New(queries),

		FetchScorer: scorer.New(scorer.Config{
			Prefix:            "fetch",
			Period:            cfg.ScorerPeriod,
			MinRequestsPerSec: cfg.ScorerMinRequestsSec,
			MaxFailureFrac:    cfg.ScorerMaxFailureFrac,
		}),
		DeliverScorer: scorer.New(scorer.Config{
			Prefix:            "deliver",
			Period:            cfg.ScorerPeriod,
			MinRequestsPerSec: cfg.ScorerMinRequestsSec,
			MaxFailureFrac:    cfg.ScorerMaxFailureFrac,
		}),
		Samplers: scorer.NewMultiSampler(),

		AdminSecretCache: NewCache[string, bool](),

		EventBus: NewEventBus(),

		dbconn: conn,
	}

	a.Samplers.Register(scorer.ReservoirConfig{
		Name: "fetch_latency", Period: cfg.SamplerPeriod, Capacity: cfg.SamplerCapacity,
		KeyedBy: scorer.KeyedByURL, Units: "ms",
	})
	a.Samplers.Register(scorer.ReservoirConfig{
		Name: "deliver_latency", Period: cfg.SamplerPeriod, Capacity: cfg.SamplerCapacity,
		KeyedBy: scorer.KeyedByDomain, Units: "ms",
	})

	a.FetchQueue = forkjoin.New[string]("feed-fetch", taskqueue.QueueFeedPull, forkjoin.Config{
		BatchPeriod:       cfg.ForkJoinBatchPeriod,
		BatchSize:         cfg.ForkJoinBatchSize,
		AcquireAttempts:   cfg.ForkJoinAcquireAttempts,
		AcquireTimeout:    cfg.ForkJoinAcquireTimeout,
		ExpirationSeconds: cfg.ForkJoinExpiration,
		StallTimeout:      cfg.ForkJoinStallTimeout,
	}, dispatcher)

	return a, nil
}

// VerifyAdminSecret checks plain against the configured bcrypt hash,
// memoizing the result per plaintext so a client that's already
// authenticated once doesn't pay bcrypt's cost on every subsequent request.
func (a *Application) VerifyAdminSecret(plain string) bool {
	if a.Config.AdminSecret == "" || plain == "" {
		return false
	}
	if v, ok := a.AdminSecretCache.Get(plain); ok {
		return v
	}
	if a.AdminSecretCache.IsNegative(plain) {
		return false
	}
	ok := CheckAdminSecret(a.Config.AdminSecret, plain)
	if ok {
		a.AdminSecretCache.Set(plain, true)
	} else {
		a.AdminSecretCache.SetNegative(plain)
	}
	return ok
}

// retryDelay returns the spec's base-30s exponential backoff for the nth
// (0-indexed) failure: base*2^n, which callers add to now (spec.md §5, §8).
func retryDelay(base time.Duration, n int) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
	}
	return d
}
