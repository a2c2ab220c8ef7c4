package main

import (
	"context"
	"embed"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vearutop/statigz"
	"github.com/vearutop/statigz/zstd"

	"github.com/feedrelay/hub/api"
	"github.com/feedrelay/hub/app"
	"github.com/feedrelay/hub/config"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/taskqueue"
	"github.com/feedrelay/hub/middleware"
	"github.com/feedrelay/hub/views"
)

//go:embed static/*
var static embed.FS

func main() {
	config.InitLogging()
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Unable to load configuration", err)
	}

	application, err := app.NewApp(appConfig)
	if err != nil {
		log.Fatal("Unable to initialize application", err)
	}
	defer application.Close()

	slog.Debug("Configuration",
		"DevMode", appConfig.DevMode,
		"LogLevel", appConfig.LogLevel,
	)

	wireComponents(application)
	registerQueueHandlers(application)

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	if n, err := application.Deliverer.ResumeUnfinishedEvents(ctx); err != nil {
		log.Fatal("Unable to resume unfinished deliveries", err)
	} else if n > 0 {
		slog.Info("Resumed unfinished deliveries", "count", n)
	}

	stopBusConsumers := startBusConsumers(ctx, application)
	defer stopBusConsumers()

	application.Dispatcher.Start(ctx)
	if err := application.Polling.Start(ctx); err != nil {
		log.Fatal("Unable to start polling sweep", err)
	}

	router := http.NewServeMux()
	if appConfig.DevMode {
		router.Handle("/static/", http.StripPrefix("/static", http.FileServer(http.Dir("static"))))
	} else {
		router.Handle("/static/", statigz.FileServer(static, zstd.AddEncoding))
	}
	views.AddViews(application, router)
	api.AddApis(application, router)
	api.AddHubRoutes(application, router)

	handler := middleware.AllStandardMiddleware(
		middleware.AdminAuthMiddleware(application)(
			middleware.PublishRateLimitMiddleware(application)(
				middleware.SubscribeRateLimitMiddleware(application)(router))))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", appConfig.Port),
		Handler: handler,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting hub", "port", appConfig.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-sigChan
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// cancelBackground stops the dispatcher's poll loops and the polling
	// sweep; application.Close() (deferred) then closes the DB pool.
	cancelBackground()
	application.Dispatcher.Stop()

	slog.Info("Shutdown complete")
}

// wireComponents builds every component that depends on *app.Application and
// hangs it back off Application so api/ and views/ handlers can reach it
// (spec.md §4.4-§4.10) from one construction site.
func wireComponents(a *app.Application) {
	a.Subscriptions = app.NewSubscriptionManager(a)
	a.Publisher = app.NewPublishIngester(a)
	a.Builder = app.NewEventBuilder(a)
	a.Puller = app.NewFeedPuller(a, a.Subscriptions, a.Builder)
	a.Deliverer = app.NewEventDeliverer(a, a.Subscriptions)
	a.Polling = app.NewPollingSweep(a, a.Puller)
	a.RecordFeed = app.NewRecordFeed(a)
}

// registerQueueHandlers wires all eight dispatcher queues (spec.md §2 item
// 4's seven plus record-feed) to
// their concrete handlers, the one place in the module where a queue name is
// bound to the payload shape it carries.
func registerQueueHandlers(a *app.Application) {
	a.Dispatcher.RegisterHandler(taskqueue.QueueSubscription, a.Subscriptions.HandleVerificationTask)

	a.Dispatcher.RegisterHandler(taskqueue.QueueFeedPull, feedPullDrainHandler(a))
	a.Dispatcher.RegisterHandler(taskqueue.QueueFeedPullRetry, feedPullRetryHandler(a))

	a.Dispatcher.RegisterHandler(taskqueue.QueueDelivery, deliveryHandler(a))
	a.Dispatcher.RegisterHandler(taskqueue.QueueDeliveryRetry, deliveryHandler(a))

	a.Dispatcher.RegisterHandler(taskqueue.QueuePolling, a.Polling.Tick)

	a.Dispatcher.RegisterHandler(taskqueue.QueueMappings, mappingsHandler(a))

	a.Dispatcher.RegisterHandler(taskqueue.QueueRecordFeed, a.RecordFeed.Handle)
}

// startBusConsumers subscribes to the Application's EventBus and turns
// lifecycle messages into durable follow-up work, giving Subscribe() a real
// consumer (spec.md §4.9's RecordFeedHandler runs per newly-verified
// subscribe). Returns a function that unsubscribes and waits for the
// consumer goroutine to exit.
func startBusConsumers(ctx context.Context, a *app.Application) func() {
	ch, unsubscribe := a.EventBus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Type != app.BusMessageSubscriptionVerified {
					continue
				}
				name := fmt.Sprintf("record-feed-%s", keys.Hash(msg.Topic))
				if err := a.Dispatcher.Enqueue(ctx, taskqueue.QueueRecordFeed, name, time.Now(), []byte(msg.Topic)); err != nil {
					slog.Error("enqueue record-feed task failed", "topic", msg.Topic, "error", err)
				}
			}
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}
}

// feedPullDrainHandler drains the fork-join batch named by the task payload
// (spec.md §4.3's coalesced pull request) and hands the topics to the
// puller.
func feedPullDrainHandler(a *app.Application) taskqueue.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		index := strings.TrimPrefix(string(payload), "drain:")
		topics, ok := a.FetchQueue.Drain(ctx, index)
		if !ok {
			return fmt.Errorf("fork-join queue: could not acquire batch %q", index)
		}
		if len(topics) == 0 {
			return nil
		}
		return a.Puller.PullBatch(ctx, topics)
	}
}

// feedPullRetryHandler processes a single-topic follow-up pull (spec.md
// §4.6's fetch_failed backoff path carries a bare topic as its payload).
func feedPullRetryHandler(a *app.Application) taskqueue.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		return a.Puller.PullBatch(ctx, []string{string(payload)})
	}
}

// deliveryHandler parses the event id carried by both the delivery and
// delivery-retry queues (spec.md §4.8) and runs one delivery round.
func deliveryHandler(a *app.Application) taskqueue.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		id, err := uuidFromString(string(payload))
		if err != nil {
			return fmt.Errorf("parse event id: %w", err)
		}
		return a.Deliverer.Deliver(ctx, id)
	}
}

// mappingsHandler implements the feed-identity queue (spec.md §4.9): the
// payload is "<add|remove>|<feed_id>|<topic>", mirroring
// SubscriptionManager's own "|"-delimited verification-task encoding.
func mappingsHandler(a *app.Application) taskqueue.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		parts := strings.SplitN(string(payload), "|", 3)
		if len(parts) != 3 {
			return fmt.Errorf("malformed mappings payload %q", payload)
		}
		op, feedID, topic := parts[0], parts[1], parts[2]
		switch op {
		case "add":
			return a.Identity.Update(ctx, feedID, topic)
		case "remove":
			return a.Identity.Remove(ctx, feedID, topic)
		default:
			return fmt.Errorf("unknown mappings op %q", op)
		}
	}
}

func uuidFromString(s string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}
