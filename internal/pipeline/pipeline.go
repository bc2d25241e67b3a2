// Package pipeline implements the five-stage task lifecycle state machine.
// Each stage owns an ordered chain of hooks run in registration order; a
// hook may mutate the task, pass it through, or reject it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/forgeworks/promptforge/internal/domain"
)

// Stage identifies one lifecycle stage.
type Stage string

// The five stages, in execution order.
const (
	StageQueue    Stage = "queue"
	StageInject   Stage = "inject"
	StageValidate Stage = "validate"
	StageApprove  Stage = "approve"
	StageDispatch Stage = "dispatch"
)

// stageOrder fixes the execution sequence. Queue hooks run while the task is
// still queued; every later stage transitions the task on entry.
var stageOrder = []Stage{StageQueue, StageInject, StageValidate, StageApprove, StageDispatch}

// entryState maps each stage to the state a task assumes when it enters.
var entryState = map[Stage]domain.TaskState{
	StageInject:   domain.StateInjected,
	StageValidate: domain.StateValidated,
	StageApprove:  domain.StateApproved,
	StageDispatch: domain.StateDispatched,
}

// rejectionState maps each stage to the terminal state a rejection produces.
// A Queue-stage rejection abandons the task (it never really entered the
// pipeline); later rejections fail it. None of these consume an attempt:
// no external cost was incurred before dispatch.
var rejectionState = map[Stage]domain.TaskState{
	StageQueue:    domain.StateAbandoned,
	StageInject:   domain.StateFailed,
	StageValidate: domain.StateFailed,
	StageApprove:  domain.StateFailed,
	StageDispatch: domain.StateFailed,
}

// ErrInvariantViolation indicates a hook mutated an immutable field. This is
// a programming defect, not a transient failure: the task is abandoned and
// never retried.
var ErrInvariantViolation = errors.New("pipeline invariant violated")

// Hook is one link in a stage's chain. Returning (nil, nil) rejects the
// task; returning an error rejects it with that error as the reason. Later
// hooks in the chain see mutations made by earlier ones.
type Hook func(ctx context.Context, task *domain.Task) (*domain.Task, error)

// Rejection reports that a hook halted the task before execution. The
// pipeline has already moved the task to Terminal and recorded the reason in
// its history when a Rejection is returned.
type Rejection struct {
	Stage    Stage
	Reason   string
	Terminal domain.TaskState
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("task rejected at %s stage: %s", r.Stage, r.Reason)
}

// Pipeline runs tasks through the five stages. Construct with New, register
// hooks, then call Run for each claimed task. Registration is not safe
// concurrently with Run; register everything during wiring.
type Pipeline struct {
	hooks  map[Stage][]Hook
	logger *slog.Logger
}

// New creates an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		hooks:  make(map[Stage][]Hook),
		logger: logger.With("component", "pipeline"),
	}
}

// Register appends a hook to the given stage's chain. Order is significant:
// hooks run in registration order.
func (p *Pipeline) Register(stage Stage, hook Hook) {
	p.hooks[stage] = append(p.hooks[stage], hook)
}

// Run pushes the task through all five stages. On success the returned task
// is in the dispatched state, ready for the worker to execute. On rejection
// the returned error is a *Rejection (or wraps ErrInvariantViolation) and
// the task has already been transitioned to its terminal state with the
// reason recorded in history.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	for _, stage := range stageOrder {
		if state, ok := entryState[stage]; ok {
			if err := task.Transition(state); err != nil {
				return p.violate(task, task.ID, stage, err.Error())
			}
		}

		current, err := p.runStage(ctx, stage, task)
		if err != nil {
			return current, err
		}
		task = current
		task.AppendHistory(string(stage), "ok", "")
	}
	return task, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, task *domain.Task) (*domain.Task, error) {
	logger := p.logger.With("task_id", task.ID, "stage", stage)

	for i, hook := range p.hooks[stage] {
		id := task.ID
		next, err := hook(ctx, task)

		switch {
		case err != nil:
			logger.Info("hook rejected task", "hook_index", i, "reason", err.Error())
			return p.reject(task, stage, err.Error())
		case next == nil:
			logger.Info("hook rejected task", "hook_index", i)
			return p.reject(task, stage, fmt.Sprintf("rejected by %s hook %d", stage, i))
		case next.ID != id:
			return p.violate(task, id, stage, fmt.Sprintf("hook %d mutated task id %s to %s", i, id, next.ID))
		}
		task = next
	}
	return task, nil
}

// reject moves the task to the stage's terminal state and records why.
func (p *Pipeline) reject(task *domain.Task, stage Stage, reason string) (*domain.Task, error) {
	terminal := rejectionState[stage]
	task.AppendHistory(string(stage), "rejected", reason)
	if err := task.Transition(terminal); err != nil {
		// The lifecycle graph guarantees this edge exists for every stage;
		// failure here means the task arrived in an impossible state.
		return p.violate(task, task.ID, stage, err.Error())
	}
	return task, &Rejection{Stage: stage, Reason: reason, Terminal: terminal}
}

// violate abandons a task whose invariants were broken by a hook.
func (p *Pipeline) violate(task *domain.Task, id uuid.UUID, stage Stage, detail string) (*domain.Task, error) {
	task.ID = id // restore identity before persisting
	task.AppendHistory(string(stage), "invariant_violation", detail)
	if err := task.Transition(domain.StateAbandoned); err != nil {
		task.State = domain.StateAbandoned
	}
	p.logger.Error("invariant violation",
		"task_id", id,
		"stage", stage,
		"detail", detail)
	return task, fmt.Errorf("%w at %s stage: %s", ErrInvariantViolation, stage, detail)
}
