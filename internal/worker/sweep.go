// Package worker runs background maintenance loops for the server.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/lmbridge/internal/cache"
)

// SweepStore defines the store operations needed by the sweep worker.
type SweepStore interface {
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
}

// CacheSweepWorker periodically deletes cache entries that expired more
// than a retention window ago.
type CacheSweepWorker struct {
	store     SweepStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewCacheSweepWorker creates a worker with the given store, interval and retention.
func NewCacheSweepWorker(store SweepStore, interval, retention time.Duration) *CacheSweepWorker {
	return &CacheSweepWorker{
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// The first sweep happens one interval after start.
func (w *CacheSweepWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "cache-sweep",
		"interval", w.interval.String(),
		"retention", w.retention.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "cache-sweep",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CacheSweepWorker) sweep(ctx context.Context) {
	start := w.now()
	before := start.Add(-w.retention)

	slog.Debug("sweep cycle started",
		"component", "worker",
		"action", "sweep_start",
		"before", before.Format(time.RFC3339),
	)

	removed, err := w.store.SweepExpired(ctx, before)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, cache.ErrDisabled) {
			return
		}
		slog.Error("sweep failed",
			"component", "worker",
			"action", "sweep_failed",
			"removed", removed,
			"error", err,
		)
		return
	}

	slog.Info("sweep cycle completed",
		"component", "worker",
		"action", "sweep_complete",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
