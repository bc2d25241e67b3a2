package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/forgeworks/promptforge/internal/config"
	"github.com/forgeworks/promptforge/internal/domain"
)

// generateFunc is the seam between the executor and the genai client, so
// tests can exercise the retry and result-capture logic without the network.
type generateFunc func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error)

// Executor calls the Gemini API with rendered prompts. It implements
// executor.Executor.
type Executor struct {
	logger   *slog.Logger
	model    string
	generate generateFunc

	// maxRetries bounds in-call retries for transient API errors. These are
	// invisible to the task's attempt accounting; only the final error
	// reaches the worker.
	maxRetries int
	baseDelay  time.Duration
}

// NewExecutor creates a Gemini-backed executor from the LLM configuration.
func NewExecutor(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Executor, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", ErrInvalidConfig, err)
	}

	return &Executor{
		logger: logger.With("component", "gemini_executor"),
		model:  cfg.ModelName,
		generate: func(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
			return client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		},
		maxRetries: 3,
		baseDelay:  time.Second,
	}, nil
}

// Execute sends the prompt to the configured model and captures the reply.
// Transient API errors are retried with exponential backoff and jitter;
// blocked prompts and empty responses fail immediately.
func (e *Executor) Execute(ctx context.Context, prompt string) (*domain.Result, error) {
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := float64(e.baseDelay) * math.Pow(2, float64(attempt-1))
			jitter := 0.5 + rand.Float64() // 0.5x to 1.5x
			delay := time.Duration(backoff * jitter)
			e.logger.Warn("retrying gemini call",
				"attempt", attempt,
				"delay", delay.Round(time.Millisecond),
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := e.generate(ctx, e.model, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// API-level failure; assume transient and retry.
			lastErr = err
			continue
		}

		text, err := extractText(resp)
		if err != nil {
			// Structural problems are not transient.
			return nil, err
		}

		return &domain.Result{
			Output:    text,
			Duration:  time.Since(start),
			RawStatus: rawStatus(resp),
		}, nil
	}

	return nil, fmt.Errorf("gemini call failed after %d retries: %w", e.maxRetries, lastErr)
}

// extractText pulls the generated text out of the response, translating the
// API's failure shapes to package errors.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// rawStatus summarizes how generation ended, for the task record.
func rawStatus(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].FinishReason == "" {
		return "ok"
	}
	return string(resp.Candidates[0].FinishReason)
}
