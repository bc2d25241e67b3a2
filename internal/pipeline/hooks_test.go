package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/synth"
)

func TestTrimFields(t *testing.T) {
	task := newTask(t)
	task.TemplateRef = "  recap \n"
	task.Parameters = []domain.Parameter{{Name: " topic ", Value: " launch day "}}

	got, err := TrimFields()(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "recap", got.TemplateRef)
	assert.Equal(t, "topic", got.Parameters[0].Name)
	assert.Equal(t, "launch day", got.Parameters[0].Value)
}

func TestDefaultMetadata(t *testing.T) {
	t.Run("fills empty fields", func(t *testing.T) {
		task := newTask(t)

		got, err := DefaultMetadata("auto")(context.Background(), task)
		require.NoError(t, err)

		assert.Equal(t, DefaultPriority, got.Priority)
		assert.Equal(t, []string{"auto"}, got.Tags)
	})

	t.Run("keeps caller values", func(t *testing.T) {
		task := newTask(t)
		task.Priority = "high"
		task.Tags = []string{"manual"}

		got, err := DefaultMetadata("auto")(context.Background(), task)
		require.NoError(t, err)

		assert.Equal(t, "high", got.Priority)
		assert.Equal(t, []string{"manual"}, got.Tags)
	})
}

func TestContextInject(t *testing.T) {
	templates := MapTemplates{
		"recap": "Write about {{.Params.topic}} in a {{.Context.tone}} tone." +
			"{{range .RetryReasons}} Avoid: {{.}}.{{end}}",
	}
	sources := func(ctx context.Context, task *domain.Task) []synth.Source {
		return []synth.Source{{
			Name:       "memory",
			Weight:     1,
			Confidence: 0.9,
			Facets:     map[string]string{"tone": "warm"},
		}}
	}

	t.Run("renders params and context facets", func(t *testing.T) {
		task := newTask(t)
		task.TemplateRef = "recap"
		task.Parameters = []domain.Parameter{{Name: "topic", Value: "the finale"}}

		got, err := ContextInject(templates, sources, setupTestLogger())(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, "Write about the finale in a warm tone.", got.RenderedPrompt)
	})

	t.Run("folds retry reasons into the render", func(t *testing.T) {
		task := newTask(t)
		task.TemplateRef = "recap"
		task.Parameters = []domain.Parameter{{Name: "topic", Value: "the finale"}}
		task.RetryContext = []domain.RetryRecord{
			{Attempt: 1, Reasons: []string{"too short"}},
		}

		got, err := ContextInject(templates, sources, setupTestLogger())(context.Background(), task)
		require.NoError(t, err)
		assert.Contains(t, got.RenderedPrompt, "Avoid: too short.")
	})

	t.Run("rejects on missing template", func(t *testing.T) {
		task := newTask(t)
		task.TemplateRef = "nope"

		got, err := ContextInject(templates, sources, setupTestLogger())(context.Background(), task)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})
}

func TestRequireNonEmptyPrompt(t *testing.T) {
	hook := RequireNonEmptyPrompt()

	task := newTask(t)
	task.RenderedPrompt = "   \n\t"
	got, err := hook(context.Background(), task)
	assert.Nil(t, got)
	assert.Error(t, err)

	task.RenderedPrompt = "real prompt"
	got, err = hook(context.Background(), task)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPromptSizeBounds(t *testing.T) {
	hook := PromptSizeBounds(10)

	task := newTask(t)
	task.RenderedPrompt = strings.Repeat("x", 11)
	got, err := hook(context.Background(), task)
	assert.Nil(t, got)
	assert.Error(t, err)

	task.RenderedPrompt = strings.Repeat("x", 10)
	_, err = hook(context.Background(), task)
	assert.NoError(t, err)

	unlimited := PromptSizeBounds(0)
	task.RenderedPrompt = strings.Repeat("x", 100000)
	_, err = unlimited(context.Background(), task)
	assert.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	hook := RateLimit(time.Hour)

	first := newTask(t)
	_, err := hook(context.Background(), first)
	require.NoError(t, err)

	second := newTask(t)
	got, err := hook(context.Background(), second)
	assert.Nil(t, got)
	assert.Error(t, err)

	disabled := RateLimit(0)
	_, err = disabled(context.Background(), newTask(t))
	assert.NoError(t, err)
	_, err = disabled(context.Background(), newTask(t))
	assert.NoError(t, err)
}

func TestFinalFormatting(t *testing.T) {
	task := newTask(t)
	task.RenderedPrompt = "\n  prompt body  \n\n"

	got, err := FinalFormatting()(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "prompt body\n", got.RenderedPrompt)
}

func TestAuditLogPassesThrough(t *testing.T) {
	task := newTask(t)
	task.RenderedPrompt = "p"

	got, err := AuditLog(setupTestLogger())(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}
