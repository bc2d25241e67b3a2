package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/synth"
)

// DefaultPriority is assigned at the Queue stage when the caller set none.
const DefaultPriority = "normal"

// ErrTemplateNotFound is returned by a TemplateSource when no template
// exists for the requested reference.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateSource resolves a template reference to its text. The narrative
// template content itself lives outside this engine.
type TemplateSource interface {
	Template(ref string) (string, error)
}

// MapTemplates is an in-memory TemplateSource.
type MapTemplates map[string]string

// Template implements TemplateSource.
func (m MapTemplates) Template(ref string) (string, error) {
	text, ok := m[ref]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, ref)
	}
	return text, nil
}

// SourceFunc supplies the context sources for a task at injection time. It
// receives the task so retry context from prior attempts can be folded into
// the sources.
type SourceFunc func(ctx context.Context, task *domain.Task) []synth.Source

// TrimFields is a Queue-stage hook that trims whitespace from the template
// reference and parameter values.
func TrimFields() Hook {
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		task.TemplateRef = strings.TrimSpace(task.TemplateRef)
		for i := range task.Parameters {
			task.Parameters[i].Name = strings.TrimSpace(task.Parameters[i].Name)
			task.Parameters[i].Value = strings.TrimSpace(task.Parameters[i].Value)
		}
		return task, nil
	}
}

// DefaultMetadata is a Queue-stage hook that fills in priority and tags when
// the caller left them empty.
func DefaultMetadata(defaultTags ...string) Hook {
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		if task.Priority == "" {
			task.Priority = DefaultPriority
		}
		if len(task.Tags) == 0 && len(defaultTags) > 0 {
			task.Tags = append(task.Tags, defaultTags...)
		}
		return task, nil
	}
}

// promptData is the data a prompt template is executed against.
type promptData struct {
	Params       map[string]string
	Context      map[string]string
	Confidence   float64
	Attempt      int
	RetryReasons []string
}

// ContextInject is the Inject-stage hook: it synthesizes the context object
// from the configured sources, renders the task's template against
// parameters plus context facets, and stores the rendered prompt. Requeued
// tasks rerun this hook, so each retry renders against the accumulated
// failure reasons.
func ContextInject(templates TemplateSource, sources SourceFunc, logger *slog.Logger) Hook {
	log := logger.With("hook", "context_inject")
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		text, err := templates.Template(task.TemplateRef)
		if err != nil {
			return nil, fmt.Errorf("cannot render prompt: %w", err)
		}

		tmpl, err := template.New(task.TemplateRef).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %q does not parse: %w", task.TemplateRef, err)
		}

		obj := synth.Synthesize(sources(ctx, task))

		data := promptData{
			Params:     make(map[string]string, len(task.Parameters)),
			Context:    make(map[string]string, len(obj.Facets)),
			Confidence: obj.OverallConfidence,
			Attempt:    task.AttemptCount,
		}
		for _, p := range task.Parameters {
			data.Params[p.Name] = p.Value
		}
		for name, facet := range obj.Facets {
			data.Context[name] = facet.Value
		}
		for _, rec := range task.RetryContext {
			data.RetryReasons = append(data.RetryReasons, rec.Reasons...)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("template %q failed to render: %w", task.TemplateRef, err)
		}
		task.RenderedPrompt = buf.String()

		log.Debug("context injected",
			"task_id", task.ID,
			"sources_used", obj.SourcesUsed,
			"overall_confidence", obj.OverallConfidence,
			"prompt_length", len(task.RenderedPrompt))
		return task, nil
	}
}

// RequireNonEmptyPrompt is a Validate-stage hook rejecting tasks whose
// rendered prompt is empty or whitespace.
func RequireNonEmptyPrompt() Hook {
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		if strings.TrimSpace(task.RenderedPrompt) == "" {
			return nil, errors.New("rendered prompt is empty")
		}
		return task, nil
	}
}

// PromptSizeBounds is a Validate-stage hook enforcing a maximum rendered
// prompt size in bytes. Zero disables the bound.
func PromptSizeBounds(maxBytes int) Hook {
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		if maxBytes > 0 && len(task.RenderedPrompt) > maxBytes {
			return nil, fmt.Errorf(
				"rendered prompt is %d bytes, limit is %d", len(task.RenderedPrompt), maxBytes)
		}
		return task, nil
	}
}

// RateLimit is an Approve-stage hook rejecting tasks that arrive closer
// together than minInterval. It is the last policy gate before cost is
// incurred.
func RateLimit(minInterval time.Duration) Hook {
	var mu sync.Mutex
	var last time.Time
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		if minInterval <= 0 {
			return task, nil
		}
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < minInterval {
			return nil, fmt.Errorf("rate limit: next dispatch allowed in %s",
				(minInterval - now.Sub(last)).Round(time.Millisecond))
		}
		last = now
		return task, nil
	}
}

// FinalFormatting is an Approve-stage hook that normalizes the prompt before
// dispatch: surrounding whitespace removed, exactly one trailing newline.
func FinalFormatting() Hook {
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		task.RenderedPrompt = strings.TrimSpace(task.RenderedPrompt) + "\n"
		return task, nil
	}
}

// AuditLog is a Dispatch-stage hook recording the hand-off to the executor.
func AuditLog(logger *slog.Logger) Hook {
	log := logger.With("hook", "audit")
	return func(ctx context.Context, task *domain.Task) (*domain.Task, error) {
		log.Info("task dispatched to executor",
			"task_id", task.ID,
			"template_ref", task.TemplateRef,
			"attempt", task.AttemptCount,
			"prompt_length", len(task.RenderedPrompt))
		return task, nil
	}
}
