package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a task.
type TaskState string

// Possible task state values.
const (
	StateQueued     TaskState = "queued"
	StateInjected   TaskState = "injected"
	StateValidated  TaskState = "validated"
	StateApproved   TaskState = "approved"
	StateDispatched TaskState = "dispatched"
	StateExecuted   TaskState = "executed"
	StateSucceeded  TaskState = "succeeded"
	StateFailed     TaskState = "failed"
	StateRequeued   TaskState = "requeued"
	StateAbandoned  TaskState = "abandoned"
)

// legalTransitions is the directed lifecycle graph. A transition is legal
// only if the target state appears in the source state's edge list.
// Pipeline rejections map to failed (or abandoned at the Queue stage), and
// invariant violations map to abandoned from any non-terminal state.
var legalTransitions = map[TaskState][]TaskState{
	StateQueued:     {StateInjected, StateAbandoned},
	StateInjected:   {StateValidated, StateFailed, StateAbandoned},
	StateValidated:  {StateApproved, StateFailed, StateAbandoned},
	StateApproved:   {StateDispatched, StateFailed, StateAbandoned},
	StateDispatched: {StateExecuted, StateFailed, StateAbandoned},
	StateExecuted:   {StateSucceeded, StateFailed},
	StateFailed:     {StateRequeued, StateAbandoned},
	StateRequeued:   {StateQueued},
	StateSucceeded:  {},
	StateAbandoned:  {},
}

// Valid reports whether s is one of the known lifecycle states.
func (s TaskState) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// Parameter is a single named template variable. Parameters are kept as an
// ordered slice rather than a map so rendering order is deterministic.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HistoryEntry records one pipeline or execution event. History is
// append-only; entries are never mutated in place.
type HistoryEntry struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
}

// Result holds the payload captured after a task was dispatched to the
// executor.
type Result struct {
	Output    string        `json:"output"`
	Duration  time.Duration `json:"duration"`
	RawStatus string        `json:"raw_status,omitempty"`
}

// RetryRecord captures the enrichment carried into a requeued attempt: the
// reasons the previous attempt failed and the prompt it ran with.
type RetryRecord struct {
	Attempt     int       `json:"attempt"`
	Reasons     []string  `json:"reasons"`
	PriorPrompt string    `json:"prior_prompt,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Task is the unit of work moved through the lifecycle pipeline and
// dispatched to the executor.
type Task struct {
	ID             uuid.UUID      `json:"id"`
	TemplateRef    string         `json:"template_ref"`
	RenderedPrompt string         `json:"rendered_prompt,omitempty"`
	Parameters     []Parameter    `json:"parameters,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	State          TaskState      `json:"state"`
	AttemptCount   int            `json:"attempt_count"`
	MaxAttempts    int            `json:"max_attempts"`
	Criteria       Criteria       `json:"criteria"`
	Result         *Result        `json:"result,omitempty"`
	History        []HistoryEntry `json:"history"`
	RetryContext   []RetryRecord  `json:"retry_context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewTask creates a new Task in the queued state. It validates the
// submission and returns ErrConfiguration (wrapped) for malformed input, so
// bad tasks are rejected before they are ever persisted.
func NewTask(
	templateRef string,
	params []Parameter,
	criteria Criteria,
	maxAttempts int,
) (*Task, error) {
	if templateRef == "" {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, ErrEmptyTemplateRef)
	}
	if maxAttempts < 0 {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, ErrNegativeMaxAttempts)
	}
	if err := criteria.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	now := time.Now().UTC()
	return &Task{
		ID:           uuid.New(),
		TemplateRef:  templateRef,
		Parameters:   params,
		State:        StateQueued,
		AttemptCount: 0,
		MaxAttempts:  maxAttempts,
		Criteria:     criteria,
		History:      []HistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Validate checks that the task's identity and state fields are well formed.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.TemplateRef == "" {
		return ErrEmptyTemplateRef
	}
	if _, ok := legalTransitions[t.State]; !ok {
		return ErrInvalidState
	}
	if t.MaxAttempts < 0 {
		return ErrNegativeMaxAttempts
	}
	return nil
}

// Transition moves the task to the given state if the lifecycle graph has a
// matching edge, updating UpdatedAt. Returns ErrIllegalTransition otherwise.
func (t *Task) Transition(to TaskState) error {
	edges, ok := legalTransitions[t.State]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidState, t.State)
	}
	for _, edge := range edges {
		if edge == to {
			t.State = to
			t.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.State, to)
}

// AppendHistory records an event in the task's append-only history and
// updates UpdatedAt.
func (t *Task) AppendHistory(stage, outcome, message string) {
	now := time.Now().UTC()
	t.History = append(t.History, HistoryEntry{
		Stage:     stage,
		Timestamp: now,
		Outcome:   outcome,
		Message:   message,
	})
	t.UpdatedAt = now
}

// Terminal reports whether the task has reached a state with no outgoing
// edges. Terminal tasks are never picked up by the watcher again.
func (t *Task) Terminal() bool {
	return len(legalTransitions[t.State]) == 0
}

// ResetForRecovery returns an in-flight task to the queued state after a
// crash. This is the only path back to queued that bypasses the transition
// table: the previous run may have died between any two stages, so the exact
// source state is not trustworthy.
func (t *Task) ResetForRecovery(reason string) {
	t.State = StateQueued
	t.AppendHistory("recovery", "requeued", reason)
}
