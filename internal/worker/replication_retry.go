package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

// ChangeStore defines the store operations needed by the replication retry worker.
type ChangeStore interface {
	PendingChanges(limit int) []journal.PendingChange
	ReplayChange(ctx context.Context, changeID string) error
	MarkChangeStalled(changeID string) error
}

// ReplicationRetryWorker replays pending changes that failed to replicate.
type ReplicationRetryWorker struct {
	store       ChangeStore
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

// RetryStats summarizes one pass over the outbox.
type RetryStats struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
	Stalled  int `json:"stalled"`
}

// NewReplicationRetryWorker creates a new replication retry worker.
func NewReplicationRetryWorker(
	s ChangeStore,
	interval time.Duration,
	maxAttempts int,
	batchSize int,
) *ReplicationRetryWorker {
	return &ReplicationRetryWorker{
		store:       s,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *ReplicationRetryWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "replication-retry",
		"interval", w.interval.String(),
		"max_attempts", w.maxAttempts,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start, then on each tick
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "replication-retry",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce makes a single pass over the pending changes. Changes that have
// used up their attempts are marked stalled instead of replayed.
func (w *ReplicationRetryWorker) RunOnce(ctx context.Context) RetryStats {
	var stats RetryStats

	for _, ch := range w.store.PendingChanges(w.batchSize) {
		if ctx.Err() != nil {
			return stats
		}
		if ch.Attempts >= w.maxAttempts {
			w.markStalled(ch)
			stats.Stalled++
			continue
		}

		err := w.store.ReplayChange(ctx, ch.ID)
		switch {
		case err == nil:
			stats.Replayed++
		case errors.Is(err, journal.ErrChangeNotFound), errors.Is(err, journal.ErrChangeInFlight):
			// settled or picked up elsewhere since the listing
		case errors.Is(err, journal.ErrOffline):
			return stats
		default:
			stats.Failed++
			slog.Warn("replication replay failed, will retry",
				"component", "worker",
				"kind", ch.Kind,
				"entity_id", ch.EntityID,
				"attempts", ch.Attempts+1,
				"error", err,
			)
		}
	}

	if stats.Replayed > 0 {
		slog.Info("replayed pending changes",
			"component", "worker",
			"action", "replication_retry",
			"count", stats.Replayed,
		)
	}
	return stats
}

func (w *ReplicationRetryWorker) markStalled(ch journal.PendingChange) {
	if err := w.store.MarkChangeStalled(ch.ID); err != nil {
		slog.Error("failed to mark change stalled",
			"component", "worker",
			"change_id", ch.ID,
			"error", err,
		)
	}
}
