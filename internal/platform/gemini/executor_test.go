package gemini

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/forgeworks/promptforge/internal/config"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// newFakeExecutor builds an Executor whose API calls are served by fn.
func newFakeExecutor(fn generateFunc) *Executor {
	return &Executor{
		logger:     setupTestLogger(),
		model:      "test-model",
		generate:   fn,
		maxRetries: 2,
		baseDelay:  time.Millisecond,
	}
}

func textResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{{Text: text}},
				},
				FinishReason: reason,
			},
		},
	}
}

func TestNewExecutorValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewExecutor(ctx, nil, config.LLMConfig{GeminiAPIKey: "key", ModelName: "m"})
	assert.Error(t, err)

	_, err = NewExecutor(ctx, setupTestLogger(), config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewExecutor(ctx, setupTestLogger(), config.LLMConfig{GeminiAPIKey: "key"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExecuteCapturesResult(t *testing.T) {
	e := newFakeExecutor(func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
		assert.Equal(t, "test-model", model)
		assert.Equal(t, "tell me a story", prompt)
		return textResponse("once upon a time", genai.FinishReasonStop), nil
	})

	result, err := e.Execute(context.Background(), "tell me a story")
	require.NoError(t, err)
	assert.Equal(t, "once upon a time", result.Output)
	assert.Equal(t, string(genai.FinishReasonStop), result.RawStatus)
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	calls := 0
	e := newFakeExecutor(func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("rpc error: unavailable")
		}
		return textResponse("recovered", genai.FinishReasonStop), nil
	})

	result, err := e.Execute(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Output)
	assert.Equal(t, 3, calls)
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	e := newFakeExecutor(func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		return nil, errors.New("rpc error: unavailable")
	})

	_, err := e.Execute(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, calls, "initial call plus two retries")
}

func TestExecuteBlockedPromptFailsImmediately(t *testing.T) {
	calls := 0
	e := newFakeExecutor(func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		return textResponse("", genai.FinishReasonSafety), nil
	})

	_, err := e.Execute(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrContentBlocked)
	assert.Equal(t, 1, calls, "safety blocks must not be retried")
}

func TestExecuteEmptyResponse(t *testing.T) {
	e := newFakeExecutor(func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	})

	_, err := e.Execute(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newFakeExecutor(func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := e.Execute(ctx, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
}
