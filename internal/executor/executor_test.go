package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/promptforge/internal/domain"
)

func TestFuncAdapter(t *testing.T) {
	exec := Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		return &domain.Result{Output: "echo: " + prompt, RawStatus: "ok"}, nil
	})

	result, err := exec.Execute(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", result.Output)
}

func TestWithTimeoutPassesThroughFastCalls(t *testing.T) {
	exec := WithTimeout(Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		return &domain.Result{Output: "quick"}, nil
	}), time.Second)

	result, err := exec.Execute(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "quick", result.Output)
}

func TestWithTimeoutPassesThroughErrors(t *testing.T) {
	backendErr := errors.New("browser crashed")
	exec := WithTimeout(Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		return nil, backendErr
	}), time.Second)

	_, err := exec.Execute(context.Background(), "p")
	assert.ErrorIs(t, err, backendErr)
}

func TestWithTimeoutCancelsCooperativeBackend(t *testing.T) {
	exec := WithTimeout(Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 20*time.Millisecond)

	_, err := exec.Execute(context.Background(), "p")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWithTimeoutFiresEvenIfBackendIgnoresCancellation(t *testing.T) {
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })

	exec := WithTimeout(Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		<-blocked // ignores ctx entirely
		return &domain.Result{Output: "late"}, nil
	}), 20*time.Millisecond)

	start := time.Now()
	_, err := exec.Execute(context.Background(), "p")

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "wrapper must not wait for the stray call")
}

func TestWithTimeoutZeroDisablesBound(t *testing.T) {
	exec := WithTimeout(Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return &domain.Result{Output: "unbounded"}, nil
	}), 0)

	result, err := exec.Execute(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "unbounded", result.Output)
}

func TestWithTimeoutPropagatesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := WithTimeout(Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), time.Second)

	_, err := exec.Execute(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}
