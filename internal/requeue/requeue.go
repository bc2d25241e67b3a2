// Package requeue decides whether a failed task is retried with enriched
// context or terminally abandoned.
package requeue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/queue"
)

// Controller applies the bounded-retry policy. It is the only component
// that increments a task's attempt count: pipeline rejections never reach
// it, so they never consume an attempt.
type Controller struct {
	store  queue.Store
	logger *slog.Logger
}

// NewController creates a Controller.
func NewController(store queue.Store, logger *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		logger: logger.With("component", "requeue"),
	}
}

// Decide handles a task in the failed state whose record lives in the
// inflight location. The failed execution consumed one attempt, so the
// attempt count is incremented first; while it remains below the ceiling the
// task is enriched with the failure reasons and the prompt that failed, then
// re-persisted to the queued location so the pipeline reruns from the Queue
// stage with the updated context. Once the count reaches the ceiling the
// task is abandoned into the failed location. MaxAttempts is therefore the
// total execution budget: a task with MaxAttempts of 2 executes at most
// twice.
//
// The updated record is always written into inflight first and then moved,
// so no reader ever observes a stale copy in the destination.
func (c *Controller) Decide(ctx context.Context, task *domain.Task, reasons []string) (requeued bool, err error) {
	if task.State != domain.StateFailed {
		return false, fmt.Errorf("requeue decision requires a failed task, got %q", task.State)
	}

	logger := c.logger.With("task_id", task.ID, "attempt", task.AttemptCount)

	task.AttemptCount++
	if task.AttemptCount < task.MaxAttempts {
		task.RetryContext = append(task.RetryContext, domain.RetryRecord{
			Attempt:     task.AttemptCount,
			Reasons:     reasons,
			PriorPrompt: task.RenderedPrompt,
			RecordedAt:  time.Now().UTC(),
		})
		if err := task.Transition(domain.StateRequeued); err != nil {
			return false, err
		}
		task.AppendHistory("requeue", "requeued",
			fmt.Sprintf("attempt %d of %d", task.AttemptCount, task.MaxAttempts))
		if err := task.Transition(domain.StateQueued); err != nil {
			return false, err
		}

		if err := c.store.Persist(ctx, task, queue.DirInflight); err != nil {
			return false, fmt.Errorf("failed to persist requeued task: %w", err)
		}
		if err := c.store.Move(ctx, task.ID, queue.DirInflight, queue.DirQueued); err != nil {
			return false, fmt.Errorf("failed to return task to queue: %w", err)
		}

		logger.Info("task requeued",
			"new_attempt", task.AttemptCount,
			"max_attempts", task.MaxAttempts,
			"reasons", reasons)
		return true, nil
	}

	if err := task.Transition(domain.StateAbandoned); err != nil {
		return false, err
	}
	task.AppendHistory("requeue", "abandoned",
		fmt.Sprintf("retries exhausted after %d of %d attempts",
			task.AttemptCount, task.MaxAttempts))

	if err := c.store.Persist(ctx, task, queue.DirInflight); err != nil {
		return false, fmt.Errorf("failed to persist abandoned task: %w", err)
	}
	if err := c.store.Move(ctx, task.ID, queue.DirInflight, queue.DirFailed); err != nil {
		return false, fmt.Errorf("failed to move abandoned task: %w", err)
	}

	logger.Info("task abandoned", "reasons", reasons)
	return false, nil
}
