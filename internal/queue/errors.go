package queue

import "errors"

// Common store errors used by all QueueStore implementations.
var (
	// ErrTaskNotFound is returned when a task id does not exist in the
	// requested directory.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskVanished is returned when a move or claim loses a race: the
	// source file no longer exists because another claimer got there first.
	// Callers tolerate this and skip the task.
	ErrTaskVanished = errors.New("task vanished from source location")

	// ErrCorrupt is returned when a task file exists but cannot be decoded.
	ErrCorrupt = errors.New("task record is corrupt")
)
