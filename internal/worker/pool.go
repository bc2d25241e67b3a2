// Package worker executes claimed tasks: pipeline stages, the bounded
// executor call, result validation, and the requeue decision all run as one
// unit of work on a single worker goroutine.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgeworks/promptforge/internal/domain"
	"github.com/forgeworks/promptforge/internal/executor"
	"github.com/forgeworks/promptforge/internal/pipeline"
	"github.com/forgeworks/promptforge/internal/queue"
	"github.com/forgeworks/promptforge/internal/requeue"
	"github.com/forgeworks/promptforge/internal/validate"
)

// History outcome tags for execution failures. Timeouts are recoverable
// like any executor error but tagged distinctly for diagnostics.
const (
	outcomeExecutorError = "executor_error"
	outcomeTimeout       = "timeout"
)

// Recorder receives task completion signals for statistics. Implementations
// must be safe for concurrent use.
type Recorder interface {
	TaskStarted()
	TaskFinished(succeeded bool)
}

// nopRecorder is used when no recorder is configured.
type nopRecorder struct{}

func (nopRecorder) TaskStarted()      {}
func (nopRecorder) TaskFinished(bool) {}

// Config holds configuration options for the worker pool.
type Config struct {
	// Count determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to 1.
	Count int

	// QueueSize determines the buffer size for the in-memory task channel.
	QueueSize int

	// ExecTimeout bounds each executor call. Zero disables the bound.
	ExecTimeout time.Duration

	// ShutdownGrace is how long Stop waits for in-flight tasks before
	// cancelling their executor calls.
	ShutdownGrace time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Count:         2,
		QueueSize:     100,
		ExecTimeout:   2 * time.Minute,
		ShutdownGrace: 30 * time.Second,
	}
}

// Pool runs claimed tasks to a terminal or requeued state.
type Pool struct {
	store    queue.Store
	pipe     *pipeline.Pipeline
	exec     executor.Executor
	checker  *validate.Validator
	requeuer *requeue.Controller
	recorder Recorder
	feedback func(ctx context.Context, task *domain.Task)

	tasks  chan *domain.Task
	quit   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	config Config
	logger *slog.Logger
}

// NewPool creates a worker pool. The executor is wrapped with the
// configured per-task timeout.
func NewPool(
	store queue.Store,
	pipe *pipeline.Pipeline,
	exec executor.Executor,
	checker *validate.Validator,
	requeuer *requeue.Controller,
	config Config,
	logger *slog.Logger,
) *Pool {
	if config.Count <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.Count,
			"default_count", 1)
		config.Count = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		store:    store,
		pipe:     pipe,
		exec:     executor.WithTimeout(exec, config.ExecTimeout),
		checker:  checker,
		requeuer: requeuer,
		recorder: nopRecorder{},
		tasks:    make(chan *domain.Task, config.QueueSize),
		quit:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		config:   config,
		logger:   logger.With("component", "worker_pool"),
	}
}

// SetRecorder attaches a statistics recorder. Call before Start.
func (p *Pool) SetRecorder(r Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// SetFeedback attaches a callback invoked after each successful task, used
// to update the persistent memory store. Call before Start.
func (p *Pool) SetFeedback(fn func(ctx context.Context, task *domain.Task)) {
	p.feedback = fn
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.config.Count; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit hands a claimed task to the pool. It blocks until a worker slot or
// buffer space is available, the caller's context is cancelled, or the pool
// shuts down. A task left unsubmitted stays in the inflight location and is
// recovered on the next start.
func (p *Pool) Submit(ctx context.Context, task *domain.Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return errors.New("worker pool is shutting down")
	}
}

// Stop shuts the pool down: intake closes immediately, in-flight tasks get
// ShutdownGrace to finish, then their executor calls are cancelled. Tasks
// still buffered but never started remain in the inflight location for
// startup recovery.
func (p *Pool) Stop() {
	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownGrace):
		p.logger.Warn("shutdown grace expired, cancelling in-flight executions")
		p.cancel()
		<-done
	}
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		select {
		case <-p.quit:
			logger.Debug("stopping worker")
			return
		case task := <-p.tasks:
			p.process(task, logger)
		}
	}
}

// process is the full unit of work for one claimed task. The task's record
// is in the inflight location throughout; process always leaves it in
// exactly one location.
func (p *Pool) process(task *domain.Task, logger *slog.Logger) {
	ctx := p.ctx
	logger = logger.With("task_id", task.ID, "attempt", task.AttemptCount)

	p.recorder.TaskStarted()
	logger.Info("processing task")

	// Stages 1-5. A rejection or invariant violation is terminal and
	// consumes no attempt.
	task, err := p.pipe.Run(ctx, task)
	if err != nil {
		var rejection *pipeline.Rejection
		switch {
		case errors.As(err, &rejection):
			logger.Info("task rejected by pipeline",
				"stage", rejection.Stage,
				"terminal_state", rejection.Terminal)
		case errors.Is(err, pipeline.ErrInvariantViolation):
			logger.Error("task abandoned on invariant violation", "error", err)
		default:
			logger.Error("pipeline failed", "error", err)
		}
		p.finalize(ctx, task, queue.DirFailed, logger)
		p.recorder.TaskFinished(false)
		return
	}

	// Stage 5 handed off: invoke the executor.
	result, execErr := p.exec.Execute(ctx, task.RenderedPrompt)
	if execErr != nil {
		tag := outcomeExecutorError
		if errors.Is(execErr, executor.ErrTimeout) {
			tag = outcomeTimeout
		}
		task.AppendHistory("execute", tag, execErr.Error())
		p.fail(ctx, task, []string{execErr.Error()}, logger)
		return
	}

	task.Result = result
	if err := task.Transition(domain.StateExecuted); err != nil {
		logger.Error("task abandoned on invariant violation", "error", err)
		task.State = domain.StateAbandoned
		p.finalize(ctx, task, queue.DirFailed, logger)
		p.recorder.TaskFinished(false)
		return
	}
	task.AppendHistory("execute", "ok", result.RawStatus)

	// Validate the captured result against the task's criteria.
	outcome := p.checker.Check(result, task.Criteria)
	if !outcome.Passed {
		task.AppendHistory("validate_result", "failed", strings.Join(outcome.Reasons, "; "))
		p.fail(ctx, task, outcome.Reasons, logger)
		return
	}

	if err := task.Transition(domain.StateSucceeded); err != nil {
		logger.Error("task abandoned on invariant violation", "error", err)
		task.State = domain.StateAbandoned
		p.finalize(ctx, task, queue.DirFailed, logger)
		p.recorder.TaskFinished(false)
		return
	}
	task.AppendHistory("validate_result", "ok", "")
	p.finalize(ctx, task, queue.DirProcessed, logger)

	if p.feedback != nil {
		p.feedback(ctx, task)
	}
	p.recorder.TaskFinished(true)
	logger.Info("task completed successfully", "duration", task.Result.Duration)
}

// fail transitions an executed-or-dispatched task to failed and lets the
// requeue controller decide its fate.
func (p *Pool) fail(ctx context.Context, task *domain.Task, reasons []string, logger *slog.Logger) {
	if task.State != domain.StateFailed {
		if err := task.Transition(domain.StateFailed); err != nil {
			logger.Error("task abandoned on invariant violation", "error", err)
			task.State = domain.StateAbandoned
			p.finalize(ctx, task, queue.DirFailed, logger)
			p.recorder.TaskFinished(false)
			return
		}
	}

	requeued, err := p.requeuer.Decide(ctx, task, reasons)
	if err != nil {
		// Storage trouble: leave the record in inflight for recovery.
		logger.Error("requeue decision failed, leaving task for recovery", "error", err)
	} else if requeued {
		logger.Info("task requeued", "attempt", task.AttemptCount)
	}
	p.recorder.TaskFinished(false)
}

// finalize persists the task's terminal form and moves it out of inflight.
func (p *Pool) finalize(ctx context.Context, task *domain.Task, dest queue.Dir, logger *slog.Logger) {
	if err := p.store.Persist(ctx, task, queue.DirInflight); err != nil {
		logger.Error("failed to persist terminal task, leaving for recovery", "error", err)
		return
	}
	if err := p.store.Move(ctx, task.ID, queue.DirInflight, dest); err != nil {
		logger.Error("failed to move terminal task", "error", err, "dest", dest)
	}
}
