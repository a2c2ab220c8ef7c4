package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// PollingSweep implements spec.md §4.10: a singleton PollingMarker advances
// every BootstrapPeriod, driving a self-chaining task that pages through
// KnownFeed and synthesizes durable FeedToFetch rows so every known topic
// eventually gets re-pulled even without a publisher ping. The same tick
// also claims any pending FeedToFetch rows — whether left by a publish or
// by an earlier sweep page — and hands them to the puller, since both are
// "polling queue" work and a durable claim keeps the sweep crash-safe.
type PollingSweep struct {
	db         db.Querier
	dispatcher *taskqueue.Dispatcher
	puller     *FeedPuller
	cfg        pollingConfig
}

type pollingConfig struct {
	BootstrapPeriod time.Duration
	ChunkSize       int32
	TickInterval    time.Duration
}

func NewPollingSweep(a *Application, puller *FeedPuller) *PollingSweep {
	return &PollingSweep{
		db:         a.DB,
		dispatcher: a.Dispatcher,
		puller:     puller,
		cfg: pollingConfig{
			BootstrapPeriod: a.Config.PollingBootstrapPeriod,
			ChunkSize:       int32(a.Config.PollingChunkSize),
			TickInterval:    a.Config.TaskPollInterval,
		},
	}
}

// Start kicks off the self-chaining loop. Safe to call on every boot: the
// task name is fixed so a second instance starting concurrently just
// collides with the first's still-pending task instead of double-ticking.
func (s *PollingSweep) Start(ctx context.Context) error {
	return s.dispatcher.Enqueue(ctx, taskqueue.QueuePolling, "sweep-bootstrap", time.Now(), nil)
}

// Tick is the QueuePolling handler (spec.md §4.10): drain whatever
// FeedToFetch rows are durably pending, advance the bootstrap paging sweep
// if it's due, then re-schedule itself. The payload is unused — all state
// lives in PollingMarker and feeds_to_fetch, not in the task.
func (s *PollingSweep) Tick(ctx context.Context, _ []byte) error {
	if err := s.drainPending(ctx); err != nil {
		slog.Error("polling sweep: drain pending fetches failed", "error", err)
	}
	if err := s.advanceSweep(ctx); err != nil {
		slog.Error("polling sweep: advance failed", "error", err)
	}
	return s.rechain(ctx)
}

func (s *PollingSweep) drainPending(ctx context.Context) error {
	claimed, err := s.db.ClaimFeedsToFetch(ctx, s.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("claim feeds to fetch: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	topics := make([]string, len(claimed))
	for i, f := range claimed {
		topics[i] = f.Topic
	}
	return s.puller.PullBatch(ctx, topics)
}

// advanceSweep implements spec.md §4.10's bootstrap paging: once the marker
// is due (or a prior page left the cursor mid-sweep), page through
// KnownFeed by topic_hash and insert a durable FeedToFetch per topic.
// drainPending picks these up on a later tick; this step never calls the
// puller directly, so a publish racing the same topic just coalesces via
// EnqueueFeedToFetch's upsert-by-topic-hash.
func (s *PollingSweep) advanceSweep(ctx context.Context) error {
	marker, err := s.db.GetOrCreatePollingMarker(ctx)
	if err != nil {
		return fmt.Errorf("get polling marker: %w", err)
	}

	midSweep := marker.NextKey.Valid && marker.NextKey.String != ""
	due := !marker.SweepStart.Valid || !time.Now().Before(marker.SweepStart.Time.Add(s.cfg.BootstrapPeriod))
	if !midSweep && !due {
		return nil
	}

	cursor := ""
	if marker.NextKey.Valid {
		cursor = marker.NextKey.String
	}

	feeds, err := s.db.ListKnownFeedsAfter(ctx, cursor, s.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("list known feeds after %q: %w", cursor, err)
	}

	for _, feed := range feeds {
		if _, err := s.db.EnqueueFeedToFetch(ctx, db.EnqueueFeedToFetchParams{
			ID:         pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true},
			TopicHash:  feed.TopicHash,
			Topic:      feed.Topic,
			SourceKeys: []string{"polling"},
			Eta:        pgtype.Timestamptz{Time: time.Now(), Valid: true},
		}); err != nil {
			return fmt.Errorf("enqueue feed to fetch %q: %w", feed.Topic, err)
		}
	}

	if int32(len(feeds)) < s.cfg.ChunkSize {
		// KnownFeed exhausted: sweep complete, next one is due one
		// BootstrapPeriod from now.
		return s.db.UpdatePollingMarker(ctx, db.UpdatePollingMarkerParams{
			NextKey:    pgtype.Text{Valid: false},
			SweepStart: pgtype.Timestamptz{Time: time.Now(), Valid: true},
		})
	}

	return s.db.UpdatePollingMarker(ctx, db.UpdatePollingMarkerParams{
		NextKey:    pgtype.Text{String: feeds[len(feeds)-1].TopicHash, Valid: true},
		SweepStart: marker.SweepStart,
	})
}

func (s *PollingSweep) rechain(ctx context.Context) error {
	name := fmt.Sprintf("sweep-tick-%d", time.Now().UnixNano())
	return s.dispatcher.Enqueue(ctx, taskqueue.QueuePolling, name, time.Now().Add(s.cfg.TickInterval), nil)
}
