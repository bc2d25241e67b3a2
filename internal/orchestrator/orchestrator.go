// Package orchestrator owns the engine run loop and exposes the task
// submission and status surface consumed by CLI and HTTP callers.
//
// All dependencies are passed in at construction; there is no ambient
// registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/queue"
	"github.com/forgeworks/promptforge/internal/watcher"
	"github.com/forgeworks/promptforge/internal/worker"
)

// ErrNotRunning is returned by Stop when the engine was never started.
var ErrNotRunning = errors.New("orchestrator is not running")

// statusSearchOrder is the order Status probes the storage locations.
// Queued and inflight hold live tasks, terminal locations hold the rest.
var statusSearchOrder = []queue.Dir{
	queue.DirQueued,
	queue.DirInflight,
	queue.DirProcessed,
	queue.DirFailed,
}

// Orchestrator wires the store, watcher and worker pool together.
type Orchestrator struct {
	store  queue.Store
	pool   *worker.Pool
	watch  *watcher.Watcher
	stats  *Stats
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates an Orchestrator. The pool's statistics recorder is attached
// here so callers cannot forget it.
func New(
	dirs *queue.DirStore,
	pool *worker.Pool,
	watch *watcher.Watcher,
	logger *slog.Logger,
) *Orchestrator {
	stats := NewStats()
	pool.SetRecorder(stats)
	return &Orchestrator{
		store:  dirs,
		pool:   pool,
		watch:  watch,
		stats:  stats,
		logger: logger.With("component", "orchestrator"),
	}
}

// Start recovers stranded tasks, starts the worker pool, and launches the
// watcher loop. It returns once the engine is running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("orchestrator already started")
	}

	if err := o.watch.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	o.pool.Start()
	go func() {
		defer close(o.done)
		if err := o.watch.Run(runCtx); err != nil {
			// Storage-level failure: the queue directories are unusable.
			// Surfaced here for operator visibility; workers are drained
			// so nothing is silently half-processed.
			o.logger.Error("watcher loop failed, engine is degraded", "error", err)
		}
	}()

	o.logger.Info("engine started")
	return nil
}

// Stop shuts the engine down: the watcher stops claiming immediately, then
// the pool drains in-flight tasks within its grace period.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrNotRunning
	}

	o.cancel()
	<-o.done
	o.pool.Stop()
	o.running = false

	o.logger.Info("engine stopped")
	return nil
}

// Submit validates and persists a new task. The returned id can be used
// with Status. Malformed submissions fail here, before anything is written.
func (o *Orchestrator) Submit(
	ctx context.Context,
	templateRef string,
	params []domain.Parameter,
	criteria domain.Criteria,
	maxAttempts int,
) (uuid.UUID, error) {
	task, err := domain.NewTask(templateRef, params, criteria, maxAttempts)
	if err != nil {
		return uuid.Nil, err
	}

	if err := o.store.Persist(ctx, task, queue.DirQueued); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	o.logger.Info("task submitted",
		"task_id", task.ID,
		"template_ref", templateRef,
		"max_attempts", maxAttempts)
	return task.ID, nil
}

// Status returns a consistent snapshot of the task, including its full
// history, wherever it currently lives.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	for _, dir := range statusSearchOrder {
		task, err := o.store.Load(ctx, id, dir)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, queue.ErrTaskNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
}

// List returns all tasks in the given state, or every task when state is
// empty. Records that vanish mid-listing (claimed by a racing worker) are
// skipped.
func (o *Orchestrator) List(ctx context.Context, state domain.TaskState) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for _, dir := range statusSearchOrder {
		ids, err := o.store.List(ctx, dir)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			task, err := o.store.Load(ctx, id, dir)
			if err != nil {
				if errors.Is(err, queue.ErrTaskNotFound) {
					continue
				}
				return nil, err
			}
			if state == "" || task.State == state {
				tasks = append(tasks, task)
			}
		}
	}
	return tasks, nil
}

// Stats returns current throughput counters plus live queue depth.
func (o *Orchestrator) Stats(ctx context.Context) (Snapshot, error) {
	snap := o.stats.snapshot()
	pending, err := o.store.ListPending(ctx)
	if err != nil {
		return snap, fmt.Errorf("failed to read queue depth: %w", err)
	}
	snap.QueueDepth = len(pending)
	return snap, nil
}
