// Package executor defines the boundary to the external generation backend.
// The engine treats the backend as opaque: browser automation, an HTTP API,
// or a local model all look the same behind Executor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgeworks/promptforge/internal/domain"
)

// Common executor errors.
var (
	// ErrTimeout is returned when execution exceeded the configured
	// per-task timeout. The task is marked failed whether or not the
	// backend honored the cancellation.
	ErrTimeout = errors.New("execution timed out")

	// ErrExecution wraps backend failures so callers can distinguish them
	// from validation failures in task history.
	ErrExecution = errors.New("executor failed")
)

// Executor invokes the external generation backend with a rendered prompt.
type Executor interface {
	Execute(ctx context.Context, prompt string) (*domain.Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, prompt string) (*domain.Result, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, prompt string) (*domain.Result, error) {
	return f(ctx, prompt)
}

// WithTimeout wraps an executor so each call is bounded by d. The underlying
// call receives a context that is cancelled at the deadline; if the backend
// ignores cancellation the wrapper still returns ErrTimeout on schedule and
// the stray call's eventual result is discarded.
func WithTimeout(inner Executor, d time.Duration) Executor {
	return Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		if d <= 0 {
			return inner.Execute(ctx, prompt)
		}

		execCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			result *domain.Result
			err    error
		}
		done := make(chan outcome, 1)
		started := time.Now()

		go func() {
			result, err := inner.Execute(execCtx, prompt)
			done <- outcome{result: result, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil && execCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w after %s", ErrTimeout, d)
			}
			return out.result, out.err
		case <-execCtx.Done():
			if execCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w after %s (backend still running after %s)",
					ErrTimeout, d, time.Since(started).Round(time.Millisecond))
			}
			return nil, execCtx.Err()
		}
	})
}
