// Package watcher discovers persisted tasks and hands them to the worker
// pool, claiming each through the store's atomic rename so no task ever has
// two owners.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/queue"
)

// Pool is the watcher's view of the worker pool.
type Pool interface {
	Submit(ctx context.Context, task *domain.Task) error
}

// Config holds watcher configuration.
type Config struct {
	// PollInterval is the fallback scan period. Filesystem notifications
	// trigger scans sooner when available; the poll guarantees progress
	// when they are not.
	PollInterval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// Watcher runs the discovery loop over the queued location.
type Watcher struct {
	store  *queue.DirStore
	pool   Pool
	config Config
	logger *slog.Logger
}

// New creates a Watcher.
func New(store *queue.DirStore, pool Pool, config Config, logger *slog.Logger) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	return &Watcher{
		store:  store,
		pool:   pool,
		config: config,
		logger: logger.With("component", "watcher"),
	}
}

// Recover returns tasks stranded in the inflight location by a previous
// crashed run to the queued location, resetting their state so they rerun
// from the Queue stage. Terminal locations are never touched, so running
// recovery over a directory holding only finished tasks changes nothing.
func (w *Watcher) Recover(ctx context.Context) error {
	ids, err := w.store.List(ctx, queue.DirInflight)
	if err != nil {
		return fmt.Errorf("failed to list inflight tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	w.logger.Info("recovering stranded tasks", "count", len(ids))
	for _, id := range ids {
		task, err := w.store.Load(ctx, id, queue.DirInflight)
		if err != nil {
			w.logger.Error("failed to load stranded task, skipping",
				"task_id", id, "error", err)
			continue
		}

		task.ResetForRecovery("found in flight on startup, reprocessing from queue stage")
		if err := w.store.Persist(ctx, task, queue.DirInflight); err != nil {
			w.logger.Error("failed to rewrite stranded task, skipping",
				"task_id", id, "error", err)
			continue
		}
		if err := w.store.Move(ctx, id, queue.DirInflight, queue.DirQueued); err != nil {
			w.logger.Error("failed to requeue stranded task, skipping",
				"task_id", id, "error", err)
		}
	}
	return nil
}

// Run watches the queued location until ctx is cancelled. Each discovered
// task is claimed (moved to inflight) before it is handed to the pool;
// losing a claim race is routine and skipped. Cancellation stops claiming
// immediately.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Notifications are an accelerator; polling alone is correct.
		w.logger.Warn("filesystem notifications unavailable, polling only", "error", err)
	} else {
		defer func() { _ = fsw.Close() }()
		if err := fsw.Add(w.store.Path(queue.DirQueued)); err != nil {
			w.logger.Warn("failed to watch queue directory, polling only", "error", err)
		}
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Initial scan so tasks persisted before Run started are found without
	// waiting a full poll interval.
	if err := w.scan(ctx); err != nil {
		return err
	}

	var events chan fsnotify.Event
	var errs chan error
	if fsw != nil {
		events = fsw.Events
		errs = fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				return err
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				if err := w.scan(ctx); err != nil {
					return err
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

// scan claims every pending task and hands it to the pool. Returns an error
// only for storage-level failures that make the loop pointless; per-task
// trouble is logged and skipped.
func (w *Watcher) scan(ctx context.Context) error {
	ids, err := w.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.store.Claim(ctx, id)
		if err != nil {
			if errors.Is(err, queue.ErrTaskVanished) {
				// Another claimer won; routine under concurrency.
				continue
			}
			w.logger.Error("failed to claim task, skipping", "task_id", id, "error", err)
			continue
		}

		if err := w.pool.Submit(ctx, task); err != nil {
			// Pool is shutting down or the context is gone. The claimed
			// record stays in inflight and is recovered on next start.
			w.logger.Warn("could not hand off claimed task, leaving for recovery",
				"task_id", id, "error", err)
			return nil
		}
		w.logger.Debug("task claimed and handed to pool", "task_id", id)
	}
	return nil
}
