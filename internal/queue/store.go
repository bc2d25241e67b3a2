// Package queue provides durable task storage backed by state directories
// with atomic rename-based moves.
package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/forgeworks/promptforge/internal/domain"
)

// Dir identifies a logical storage location. Each location corresponds to a
// lifecycle position: queued (awaiting claim), inflight (claimed by a
// worker), processed (terminal success), failed (terminal failure or
// abandonment).
type Dir string

// Logical storage locations.
const (
	DirQueued    Dir = "queued"
	DirInflight  Dir = "inflight"
	DirProcessed Dir = "processed"
	DirFailed    Dir = "failed"
)

// Store defines the interface for durable task persistence. The default
// implementation is the rename-based DirStore; an embedded key-value store
// could satisfy the same contract without touching the pipeline.
//
// All mutating operations must be atomic with respect to a concurrent
// reader: a task is either fully absent or fully present in a location,
// never half-written.
type Store interface {
	// Persist writes the task record into the given location, atomically
	// replacing any previous record for the same id in that location.
	Persist(ctx context.Context, task *domain.Task, dir Dir) error

	// Load reads the task with the given id from the given location.
	// Returns ErrTaskNotFound if no record exists there.
	Load(ctx context.Context, id uuid.UUID, dir Dir) (*domain.Task, error)

	// ListPending returns the ids currently in the queued location, ordered
	// by arrival time (oldest first).
	ListPending(ctx context.Context) ([]uuid.UUID, error)

	// List returns the ids currently in the given location.
	List(ctx context.Context, dir Dir) ([]uuid.UUID, error)

	// Move atomically relocates a task record between locations. Returns
	// ErrTaskVanished if the source record no longer exists, which callers
	// treat as a lost race and skip.
	Move(ctx context.Context, id uuid.UUID, from, to Dir) error

	// Claim atomically moves a task from queued to inflight and loads it.
	// At most one caller can win the claim for a given id; losers get
	// ErrTaskVanished.
	Claim(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}
