package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/promptforge/internal/config"
	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/memstore"
	"github.com/forgeworks/promptforge/internal/pipeline"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 0, LogLevel: "debug"},
		Queue: config.QueueConfig{
			RootDir:      t.TempDir(),
			PollInterval: 50 * time.Millisecond,
		},
		Worker: config.WorkerConfig{
			Count:         1,
			QueueSize:     8,
			ExecTimeout:   time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:        "thisisasecretkeythatis32charslong!!",
			TokenLifetimeMin: 60,
		},
	}
}

func TestNewApplicationWiresComponents(t *testing.T) {
	app, err := newApplication(context.Background(), testConfig(t), setupTestLogger())
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.NotNil(t, app.orch)
	assert.NotNil(t, app.server)
}

func TestRouterHealthEndpointIsOpen(t *testing.T) {
	app, err := newApplication(context.Background(), testConfig(t), setupTestLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	app.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterAPIRequiresAuth(t *testing.T) {
	app, err := newApplication(context.Background(), testConfig(t), setupTestLogger())
	require.NoError(t, err)

	for _, path := range []string{"/api/tasks", "/api/status"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		app.server.Handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %s", path)
	}
}

func TestBuildExecutorEchoFallback(t *testing.T) {
	exec, err := buildExecutor(context.Background(), config.LLMConfig{}, setupTestLogger())
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, "echo", result.RawStatus)
}

func TestContextSourcesUsesMemoryAndRetry(t *testing.T) {
	memory, err := memstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, memory.Save(ctx, "recap", "previous answer"))

	task, err := domain.NewTask("recap", nil, domain.Criteria{}, 2)
	require.NoError(t, err)
	task.RetryContext = []domain.RetryRecord{
		{Attempt: 1, Reasons: []string{"too short"}},
	}

	sources := contextSources(memory)(ctx, task)
	require.Len(t, sources, 2)
	assert.Equal(t, "memory", sources[0].Name)
	assert.Equal(t, "previous answer", sources[0].Facets["prior_output"])
	assert.InDelta(t, 1.0, sources[0].Confidence, 0.05, "fresh memory should be near full confidence")
	assert.Equal(t, "retry", sources[1].Name)
	assert.Equal(t, "too short", sources[1].Facets["last_failure"])
}

func TestContextSourcesEmptyWithoutHistory(t *testing.T) {
	memory, err := memstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	task, err := domain.NewTask("recap", nil, domain.Criteria{}, 2)
	require.NoError(t, err)

	sources := contextSources(memory)(context.Background(), task)
	assert.Empty(t, sources)
}

func TestSuccessFeedbackStoresOutput(t *testing.T) {
	memory, err := memstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	task, err := domain.NewTask("recap", nil, domain.Criteria{}, 1)
	require.NoError(t, err)
	task.Result = &domain.Result{Output: "fresh answer"}

	successFeedback(memory, setupTestLogger())(ctx, task)

	stored, err := memory.Load(ctx, "recap")
	require.NoError(t, err)
	assert.Equal(t, "fresh answer", stored)
}

func TestDirTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recap.tmpl"), []byte("Recap {{.Params.topic}}"), 0o644))

	templates := dirTemplates{dir: dir}

	text, err := templates.Template("recap")
	require.NoError(t, err)
	assert.Equal(t, "Recap {{.Params.topic}}", text)

	_, err = templates.Template("missing")
	assert.ErrorIs(t, err, pipeline.ErrTemplateNotFound)

	for _, ref := range []string{"../etc/passwd", "a/b", `a\b`} {
		_, err := templates.Template(ref)
		assert.ErrorIs(t, err, pipeline.ErrTemplateNotFound, "ref %q", ref)
	}
}
