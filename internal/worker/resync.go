package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

// Resyncer defines the store operation needed by the resync worker.
type Resyncer interface {
	Resync(ctx context.Context) (journal.ResyncStats, error)
}

// ResyncWorker periodically pulls the owner's remote state into the local
// snapshot.
type ResyncWorker struct {
	store    Resyncer
	interval time.Duration
}

// NewResyncWorker creates a worker with the given store and interval.
func NewResyncWorker(store Resyncer, interval time.Duration) *ResyncWorker {
	return &ResyncWorker{store: store, interval: interval}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start; the boot resync covers startup.
func (w *ResyncWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "resync",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "resync",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runResync(ctx)
		}
	}
}

// runResync executes a single resync cycle.
func (w *ResyncWorker) runResync(ctx context.Context) {
	start := time.Now()

	stats, err := w.store.Resync(ctx)
	if err != nil {
		// Check for graceful shutdown
		if ctx.Err() != nil {
			return
		}
		slog.Warn("resync failed",
			"component", "worker",
			"action", "resync_failed",
			"error", err,
		)
		return
	}

	total := stats.Total()
	slog.Debug("resync completed",
		"component", "worker",
		"action", "resync_complete",
		"added", total.Added,
		"replaced", total.Replaced,
		"links_repaired", stats.LinksRepaired,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
