package api

import (
	"time"

	"github.com/forgeworks/promptforge/internal/domain"
)

// ParameterPayload is one named template parameter. Order is preserved.
type ParameterPayload struct {
	Name  string `json:"name"  validate:"required"`
	Value string `json:"value"`
}

// SubmitTaskRequest is the payload for creating a task.
type SubmitTaskRequest struct {
	TemplateRef string             `json:"template_ref" validate:"required"`
	Parameters  []ParameterPayload `json:"parameters"   validate:"dive"`
	Criteria    domain.Criteria    `json:"criteria"`
	MaxAttempts int                `json:"max_attempts" validate:"required,gt=0"`
}

// SubmitTaskResponse acknowledges a created task.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// TaskResponse is the external view of a task record.
type TaskResponse struct {
	ID           string                `json:"id"`
	TemplateRef  string                `json:"template_ref"`
	State        string                `json:"state"`
	Priority     string                `json:"priority,omitempty"`
	Tags         []string              `json:"tags,omitempty"`
	AttemptCount int                   `json:"attempt_count"`
	MaxAttempts  int                   `json:"max_attempts"`
	Result       *domain.Result        `json:"result,omitempty"`
	History      []domain.HistoryEntry `json:"history,omitempty"`
	RetryContext []domain.RetryRecord  `json:"retry_context,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewTaskResponse converts a task record to its external view. The rendered
// prompt is deliberately omitted; it can contain synthesized context the
// caller is not entitled to see.
func NewTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:           task.ID.String(),
		TemplateRef:  task.TemplateRef,
		State:        string(task.State),
		Priority:     task.Priority,
		Tags:         task.Tags,
		AttemptCount: task.AttemptCount,
		MaxAttempts:  task.MaxAttempts,
		Result:       task.Result,
		History:      task.History,
		RetryContext: task.RetryContext,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}
