package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
)

// AppConfig is the hub's full set of operational knobs. Every tunable named
// in spec.md §4 (scorer window, sampler capacity, fork-join batching,
// retry base/cap, lease bounds) is a field here rather than a hardcoded
// constant, parsed with go-arg so each doubles as an env var and CLI flag.
type AppConfig struct {
	DevMode  bool   `arg:"--dev,env:DEV_MODE" default:"false"`
	Port     int    `arg:"-p,--port,env:LISTEN_PORT" default:"8005"`
	LogLevel string `arg:"--log-level,env:LOG_LEVEL" default:"default" help:"Log level to use. Valid values are: debug, info, and warn/warning. If default the level will be info or debug in dev mode."`

	DBHost     string `arg:"--db-host,env:DB_HOST" default:"localhost"`
	DBName     string `arg:"--db-name,env:DB_NAME" default:"hub"`
	DBPort     int    `arg:"--db-port,env:DB_PORT" default:"5432"`
	DBMaxConns int    `arg:"--db-max-conns,env:DB_MAX_CONNS" default:"10"`
	DBMinConns int    `arg:"--db-min-conns,env:DB_MIN_CONNS" default:"1"`
	DBSSLMode  string `arg:"--db-ssl-mode,env:DB_SSL_MODE" default:"disable"`
	DBUsername string `arg:"--db-username,env:DB_USERNAME" default:"hub"`
	DBPassword string `arg:"--db-password,env:DB_PASSWORD" default:"badpassword"`

	BaseURL     string `arg:"--base-url,env:BASE_URL" default:"http://localhost:8005" help:"Base URL this hub is reachable at."`
	AdminSecret string `arg:"--admin-secret,env:ADMIN_SECRET" default:"" help:"Pre-shared bcrypt-checked secret for /work and diagnostic admin routes."`

	// Retry discipline (spec.md §5, §8): base-30s exponential backoff,
	// 2^attempts multiplier, cap of 4 attempts per flow.
	RetryBaseDelay       time.Duration `arg:"--retry-base-delay,env:RETRY_BASE_DELAY" default:"30s"`
	MaxDeliveryAttempts  int           `arg:"--max-delivery-attempts,env:MAX_DELIVERY_ATTEMPTS" default:"4"`
	MaxFetchAttempts     int           `arg:"--max-fetch-attempts,env:MAX_FETCH_ATTEMPTS" default:"4"`
	MaxConfirmAttempts   int           `arg:"--max-confirm-attempts,env:MAX_CONFIRM_ATTEMPTS" default:"4"`
	TaskLocalRetries     int           `arg:"--task-local-retries,env:TASK_LOCAL_RETRIES" default:"3"`

	// Subscription lease bounds (spec.md §4.4, §6).
	MaxLeaseSeconds     int `arg:"--max-lease-seconds,env:MAX_LEASE_SECONDS" default:"864000"` // 10 days
	DefaultLeaseSeconds int `arg:"--default-lease-seconds,env:DEFAULT_LEASE_SECONDS" default:"432000"`

	// Failure scorer (spec.md §4.1): one scorer keyed by full URL for feed
	// fetches, one for deliveries, sharing the same 80% failure ceiling.
	ScorerPeriod          time.Duration `arg:"--scorer-period,env:SCORER_PERIOD" default:"10m"`
	ScorerMinRequestsSec  float64       `arg:"--scorer-min-requests-per-sec,env:SCORER_MIN_REQUESTS_PER_SEC" default:"0.1"`
	ScorerMaxFailureFrac  float64       `arg:"--scorer-max-failure-fraction,env:SCORER_MAX_FAILURE_FRACTION" default:"0.8"`

	// Reservoir samplers (spec.md §4.2): diagnostic-only, no control effect.
	SamplerPeriod   time.Duration `arg:"--sampler-period,env:SAMPLER_PERIOD" default:"10m"`
	SamplerCapacity int           `arg:"--sampler-capacity,env:SAMPLER_CAPACITY" default:"100"`

	// Fork-join work queue (spec.md §4.3, §9).
	ForkJoinBatchPeriod       time.Duration `arg:"--forkjoin-batch-period,env:FORKJOIN_BATCH_PERIOD" default:"1s"`
	ForkJoinBatchSize         int           `arg:"--forkjoin-batch-size,env:FORKJOIN_BATCH_SIZE" default:"200"`
	ForkJoinAcquireAttempts   int           `arg:"--forkjoin-acquire-attempts,env:FORKJOIN_ACQUIRE_ATTEMPTS" default:"10"`
	ForkJoinAcquireTimeout    time.Duration `arg:"--forkjoin-acquire-timeout,env:FORKJOIN_ACQUIRE_TIMEOUT" default:"50ms"`
	ForkJoinExpiration        time.Duration `arg:"--forkjoin-expiration,env:FORKJOIN_EXPIRATION" default:"2h"`
	ForkJoinStallTimeout      time.Duration `arg:"--forkjoin-stall-timeout,env:FORKJOIN_STALL_TIMEOUT" default:"10s"`

	// Task dispatcher polling (internal/taskqueue).
	TaskPollInterval   time.Duration `arg:"--task-poll-interval,env:TASK_POLL_INTERVAL" default:"500ms"`
	TaskWorkersPerQueue int          `arg:"--task-workers-per-queue,env:TASK_WORKERS_PER_QUEUE" default:"4"`

	// Polling sweep (spec.md §4.10): bootstrap publish synthesis cadence.
	PollingBootstrapPeriod time.Duration `arg:"--polling-bootstrap-period,env:POLLING_BOOTSTRAP_PERIOD" default:"3h"`
	PollingChunkSize       int           `arg:"--polling-chunk-size,env:POLLING_CHUNK_SIZE" default:"100"`

	// Outbound HTTP (spec.md §5, §6): every outbound call has a 10s deadline.
	FetchTimeout      time.Duration `arg:"--fetch-timeout,env:FETCH_TIMEOUT" default:"10s"`
	VerifyTimeout     time.Duration `arg:"--verify-timeout,env:VERIFY_TIMEOUT" default:"10s"`
	DeliverTimeout    time.Duration `arg:"--deliver-timeout,env:DELIVER_TIMEOUT" default:"10s"`
	MaxRedirectHops   int           `arg:"--max-redirect-hops,env:MAX_REDIRECT_HOPS" default:"7"`

	// Event builder paging (spec.md §4.7): truncate bursts over this size.
	MaxEntriesPerEvent int `arg:"--max-entries-per-event,env:MAX_ENTRIES_PER_EVENT" default:"200"`

	// Subscriber paging chunk size (spec.md §4.8).
	DeliveryChunkSize int `arg:"--delivery-chunk-size,env:DELIVERY_CHUNK_SIZE" default:"1000"`

	// Publish rate limiting (spec.md §6): 100/s global, 10/s per callback.
	PublishRateLimitPerSec    float64 `arg:"--publish-rate-limit,env:PUBLISH_RATE_LIMIT" default:"100"`
	SubscribeRateLimitPerSec  float64 `arg:"--subscribe-rate-limit,env:SUBSCRIBE_RATE_LIMIT" default:"10"`

	// Feed identity index (spec.md §4.9): a KnownFeed younger than this is
	// considered fresh enough to skip re-fetching/re-extracting its feed_id.
	FeedIdentityFreshness time.Duration `arg:"--feed-identity-freshness,env:FEED_IDENTITY_FRESHNESS" default:"480h"`
}

func LoadConfig() (*AppConfig, error) {
	var appConfig AppConfig
	arg.MustParse(&appConfig)

	if appConfig.DevMode {
		err := godotenv.Load(".env")
		if err == nil {
			// re-parse to get env vars from .env
			slog.Info("Loaded .env")
			arg.MustParse(&appConfig)
		}
	}

	if appConfig.LogLevel == "default" {
		if appConfig.DevMode {
			logLevel.Set(slog.LevelDebug)
		} else {
			logLevel.Set(slog.LevelInfo)
		}
	} else {
		intendedLevel := strings.ToLower(appConfig.LogLevel)
		switch intendedLevel {
		case "debug":
			logLevel.Set(slog.LevelDebug)
		case "info":
			logLevel.Set(slog.LevelInfo)
		case "warn", "warning":
			logLevel.Set(slog.LevelWarn)
		default:
			slog.Error("Unable to configure log level", "level", appConfig.LogLevel)
		}
	}

	return &appConfig, nil
}
