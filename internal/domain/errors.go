// Package domain defines the core task entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrConfiguration is returned when a task submission is malformed.
	// Tasks failing this check are rejected before they are ever persisted.
	ErrConfiguration = errors.New("invalid task configuration")

	// ErrEmptyTemplateRef is returned when a task has no template reference.
	ErrEmptyTemplateRef = errors.New("template reference cannot be empty")

	// ErrEmptyTaskID is returned when a task ID is the nil UUID.
	ErrEmptyTaskID = errors.New("task ID cannot be empty")

	// ErrInvalidState is returned when a task state is not one of the
	// defined lifecycle states.
	ErrInvalidState = errors.New("invalid task state")

	// ErrIllegalTransition is returned when a state change does not follow
	// an edge of the lifecycle graph.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNegativeMaxAttempts is returned when the attempt ceiling is negative.
	ErrNegativeMaxAttempts = errors.New("max attempts cannot be negative")

	// ErrInvalidCriteria is returned when validation criteria are malformed,
	// for example a required pattern that does not compile.
	ErrInvalidCriteria = errors.New("invalid validation criteria")
)
