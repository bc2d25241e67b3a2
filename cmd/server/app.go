package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/forgeworks/promptforge/internal/api"
	"github.com/forgeworks/promptforge/internal/api/middleware"
	"github.com/forgeworks/promptforge/internal/config"
	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/executor"
	"github.com/forgeworks/promptforge/internal/memstore"
	"github.com/forgeworks/promptforge/internal/orchestrator"
	"github.com/forgeworks/promptforge/internal/pipeline"
	"github.com/forgeworks/promptforge/internal/platform/gemini"
	"github.com/forgeworks/promptforge/internal/queue"
	"github.com/forgeworks/promptforge/internal/requeue"
	"github.com/forgeworks/promptforge/internal/service/auth"
	"github.com/forgeworks/promptforge/internal/synth"
	"github.com/forgeworks/promptforge/internal/validate"
	"github.com/forgeworks/promptforge/internal/watcher"
	"github.com/forgeworks/promptforge/internal/worker"
)

// memoryHalfLife controls how fast stored feedback loses confidence.
const memoryHalfLife = 24 * time.Hour

// application holds the wired components of the running server.
type application struct {
	cfg    *config.Config
	logger *slog.Logger
	orch   *orchestrator.Orchestrator
	server *http.Server
}

// newApplication builds the engine and HTTP server from configuration.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	store, err := queue.NewDirStore(cfg.Queue.RootDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue storage: %w", err)
	}

	memory, err := memstore.NewFileStore(filepath.Join(cfg.Queue.RootDir, "memory"))
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	templates := dirTemplates{dir: filepath.Join(cfg.Queue.RootDir, "templates")}

	pipe := pipeline.New(logger)
	pipe.Register(pipeline.StageQueue, pipeline.TrimFields())
	pipe.Register(pipeline.StageQueue, pipeline.DefaultMetadata())
	pipe.Register(pipeline.StageInject, pipeline.ContextInject(templates, contextSources(memory), logger))
	pipe.Register(pipeline.StageValidate, pipeline.RequireNonEmptyPrompt())
	pipe.Register(pipeline.StageValidate, pipeline.PromptSizeBounds(1<<20))
	pipe.Register(pipeline.StageApprove, pipeline.FinalFormatting())
	pipe.Register(pipeline.StageDispatch, pipeline.AuditLog(logger))

	exec, err := buildExecutor(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	checker := validate.New()
	checker.RegisterPredicate("non_empty", func(output string) (bool, string) {
		if strings.TrimSpace(output) == "" {
			return false, "output is empty"
		}
		return true, ""
	})

	requeuer := requeue.NewController(store, logger)
	pool := worker.NewPool(store, pipe, exec, checker, requeuer, worker.Config{
		Count:         cfg.Worker.Count,
		QueueSize:     cfg.Worker.QueueSize,
		ExecTimeout:   cfg.Worker.ExecTimeout,
		ShutdownGrace: cfg.Worker.ShutdownGrace,
	}, logger)
	pool.SetFeedback(successFeedback(memory, logger))

	watch := watcher.New(store, pool, watcher.Config{
		PollInterval: cfg.Queue.PollInterval,
	}, logger)

	orch := orchestrator.New(store, pool, watch, logger)

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to set up auth: %w", err)
	}

	router := buildRouter(orch, jwtService, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:    cfg,
		logger: logger,
		orch:   orch,
		server: server,
	}, nil
}

// buildExecutor returns the Gemini executor when an API key is configured,
// otherwise an echo executor that returns the prompt unchanged. The echo
// path keeps local development and tests independent of the external API.
func buildExecutor(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (executor.Executor, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("no gemini API key configured, using echo executor")
		return executor.Func(func(ctx context.Context, prompt string) (*domain.Result, error) {
			start := time.Now()
			return &domain.Result{
				Output:    prompt,
				Duration:  time.Since(start),
				RawStatus: "echo",
			}, nil
		}), nil
	}

	exec, err := gemini.NewExecutor(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up gemini executor: %w", err)
	}
	return exec, nil
}

// contextSources builds the per-task context sources: stored feedback from
// previous successful runs of the same template, weighted down as it ages.
func contextSources(memory memstore.Store) pipeline.SourceFunc {
	return func(ctx context.Context, task *domain.Task) []synth.Source {
		var sources []synth.Source

		if prior, err := memory.Load(ctx, task.TemplateRef); err == nil {
			confidence := 1.0
			if age, err := memory.Age(ctx, task.TemplateRef); err == nil {
				confidence = synth.RecencyConfidence(age, memoryHalfLife)
			}
			sources = append(sources, synth.Source{
				Name:       "memory",
				Weight:     0.6,
				Threshold:  0.1,
				Confidence: confidence,
				Facets: map[string]string{
					"prior_output": prior,
				},
			})
		}

		if n := len(task.RetryContext); n > 0 {
			last := task.RetryContext[n-1]
			sources = append(sources, synth.Source{
				Name:       "retry",
				Weight:     0.4,
				Confidence: 1,
				Facets: map[string]string{
					"last_failure": strings.Join(last.Reasons, "; "),
				},
			})
		}
		return sources
	}
}

// successFeedback stores each successful output keyed by template, closing
// the loop between execution results and future context synthesis.
func successFeedback(memory memstore.Store, logger *slog.Logger) func(ctx context.Context, task *domain.Task) {
	return func(ctx context.Context, task *domain.Task) {
		if task.Result == nil {
			return
		}
		if err := memory.Save(ctx, task.TemplateRef, task.Result.Output); err != nil {
			logger.Warn("failed to store feedback",
				"template_ref", task.TemplateRef,
				"error", err)
		}
	}
}

// buildRouter assembles the chi router: trace and recovery middleware
// everywhere, JWT auth on the API surface, and an open health endpoint.
func buildRouter(orch *orchestrator.Orchestrator, jwtService auth.JWTService, logger *slog.Logger) http.Handler {
	handler := api.NewTaskHandler(orch, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Post("/tasks", handler.Submit)
		r.Get("/tasks", handler.List)
		r.Get("/tasks/{id}", handler.Get)
		r.Get("/status", handler.Stats)
	})

	return r
}

// Run starts the engine and serves HTTP until ctx is cancelled, then shuts
// both down in order: stop accepting requests, then drain the engine.
func (a *application) Run(ctx context.Context) error {
	if err := a.orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("http server failed", "error", err)
		_ = a.orch.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}

	if err := a.orch.Stop(); err != nil {
		return fmt.Errorf("engine shutdown failed: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// dirTemplates resolves template references to files named <ref>.tmpl in a
// directory.
type dirTemplates struct {
	dir string
}

// Template implements pipeline.TemplateSource.
func (d dirTemplates) Template(ref string) (string, error) {
	// References are opaque names, never paths.
	if strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("%w: %q", pipeline.ErrTemplateNotFound, ref)
	}
	data, err := os.ReadFile(filepath.Join(d.dir, ref+".tmpl"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", pipeline.ErrTemplateNotFound, ref)
	}
	return string(data), nil
}
