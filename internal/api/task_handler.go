package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forgeworks/promptforge/internal/api/shared"
	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/orchestrator"
	"github.com/forgeworks/promptforge/internal/queue"
)

// Engine is the handler's view of the orchestrator.
type Engine interface {
	Submit(ctx context.Context, templateRef string, params []domain.Parameter, criteria domain.Criteria, maxAttempts int) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, state domain.TaskState) ([]*domain.Task, error)
	Stats(ctx context.Context) (orchestrator.Snapshot, error)
}

// TaskHandler serves the task endpoints.
type TaskHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(engine Engine, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		engine: engine,
		logger: logger.With("component", "task_handler"),
	}
}

// Submit handles POST /api/tasks.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request", err)
		return
	}

	params := make([]domain.Parameter, 0, len(req.Parameters))
	for _, p := range req.Parameters {
		params = append(params, domain.Parameter{Name: p.Name, Value: p.Value})
	}

	id, err := h.engine.Submit(r.Context(), req.TemplateRef, params, req.Criteria, req.MaxAttempts)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnprocessableEntity, err.Error(), err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to submit task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: id.String(),
		State:  string(domain.StateQueued),
	})
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.engine.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to load task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// List handles GET /api/tasks with an optional state query parameter.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	state := domain.TaskState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task state")
		return
	}

	tasks, err := h.engine.List(r.Context(), state)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	resp := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, NewTaskResponse(task))
	}
	resp.Count = len(resp.Tasks)
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Stats handles GET /api/status.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to read engine statistics", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, snap)
}
