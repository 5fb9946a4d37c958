// Package worker runs job handlers against the lifecycle service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/assessment-jobs/config"
	domainjob "github.com/target/assessment-jobs/internal/domain/job"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/service"
)

// Handler runs the work for one job and returns its output payload.
// Errors are retried while the job has budget left unless wrapped with Permanent.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *model.Job) ([]byte, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) ([]byte, error) {
	return f(ctx, job)
}

// ErrJobCancelled is the cause passed to a handler's context when its job was cancelled mid-run.
var ErrJobCancelled = errors.New("job cancelled")

// ErrWorkerShutdown is the retryable failure reported for a job interrupted by shutdown.
var ErrWorkerShutdown = errors.New("worker shutting down")

const shutdownRequeueTimeout = 5 * time.Second

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a business failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Lifecycle is the part of service.LifecycleService the runner drives.
type Lifecycle interface {
	ClaimNext(ctx context.Context, n int, types ...model.JobType) ([]*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Start(ctx context.Context, id string) (model.TransitionOutcome, error)
	Complete(ctx context.Context, id string, output []byte) (model.TransitionOutcome, error)
	Fail(ctx context.Context, id string, req service.FailRequest) (model.TransitionOutcome, error)
}

var _ Lifecycle = (*service.LifecycleService)(nil)

// RunnerOptions configures the worker runner.
type RunnerOptions struct {
	Lifecycle Lifecycle                 // Required
	Notifier  domainjob.Notifier        // Optional: wakeups on job_added for the handled types; without it workers poll
	Handlers  map[model.JobType]Handler // Required: at least one handler
	Config    config.WorkerConfig
	Logger    *slog.Logger
}

// Runner claims jobs and dispatches them to the handler registered for their type.
type Runner struct {
	lifecycle Lifecycle
	notifier  domainjob.Notifier
	handlers  map[model.JobType]Handler
	// types is the claim filter: a worker only takes jobs it has a handler for.
	types     []model.JobType
	cfg       config.WorkerConfig
	logger    *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Lifecycle == nil {
		return nil, errors.New("lifecycle service is required")
	}
	if len(opts.Handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}
	cfg := opts.Config
	cfg.Sanitize()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	types := slices.Sorted(maps.Keys(opts.Handlers))
	return &Runner{
		lifecycle: opts.Lifecycle,
		notifier:  opts.Notifier,
		handlers:  opts.Handlers,
		types:     types,
		cfg:       cfg,
		logger:    logger.With("component", "worker"),
	}, nil
}

// Run starts the worker goroutines and blocks until ctx is cancelled or a worker hits a fatal error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner",
		"workers", r.cfg.Concurrency,
		"claim_batch", r.cfg.ClaimBatch,
		"poll_interval", r.cfg.PollInterval,
		"job_types", r.types,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Concurrency {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		r.logger.InfoContext(ctx, "worker runner stopped")
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context, id int) error {
	var wake <-chan struct{}
	if r.notifier != nil {
		unsub, ch := r.notifier.Subscribe(r.types...)
		defer unsub()
		wake = ch
	}
	logger := r.logger.With("worker", id)

	for ctx.Err() == nil {
		jobs, err := r.lifecycle.ClaimNext(ctx, r.cfg.ClaimBatch, r.types...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Storage hiccups are retried on the next poll.
			logger.ErrorContext(ctx, "claim jobs failed", "error", err)
		}
		for _, job := range jobs {
			r.processJob(ctx, logger, job)
		}
		if len(jobs) > 0 {
			continue
		}
		if !r.idle(ctx, wake) {
			return nil
		}
	}
	return nil
}

// idle waits for a wakeup or the poll interval. It reports false when the worker should exit.
func (r *Runner) idle(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-wake:
		return ok
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, logger *slog.Logger, job *model.Job) {
	logger = logger.With("job_id", job.ID, "type", job.Type)

	started, err := r.lifecycle.Start(ctx, job.ID)
	if err != nil {
		logger.ErrorContext(ctx, "start job failed", "error", err)
		return
	}
	if !started.Applied {
		logger.DebugContext(ctx, "job taken by another writer", "status", statusOf(started.Job))
		return
	}

	h, ok := r.handlers[job.Type]
	if !ok {
		// Claims are filtered by type, so this only happens if the store ignored the filter.
		r.fail(ctx, logger, job.ID, Permanent(fmt.Errorf("no handler for job type %s", job.Type)))
		return
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if r.cfg.CancelPoll > 0 {
		go r.watchCancellation(runCtx, cancel, job.ID)
	}

	output, err := h.Handle(runCtx, started.Job)
	if errors.Is(context.Cause(runCtx), ErrJobCancelled) {
		logger.InfoContext(ctx, "handler stopped after job cancellation")
		return
	}
	if ctx.Err() != nil {
		// The job is already processing, so hand it back for another attempt before exiting.
		stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownRequeueTimeout)
		defer stop()
		r.fail(stopCtx, logger, job.ID, ErrWorkerShutdown)
		return
	}
	if err != nil {
		r.fail(ctx, logger, job.ID, err)
		return
	}

	out, err := r.lifecycle.Complete(ctx, job.ID, output)
	if err != nil {
		logger.ErrorContext(ctx, "complete job failed", "error", err)
		return
	}
	if !out.Applied {
		logger.InfoContext(ctx, "completion dropped, job already moved", "status", statusOf(out.Job))
	}
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, id string, cause error) {
	out, err := r.lifecycle.Fail(ctx, id, service.FailRequest{
		Message:   cause.Error(),
		Retryable: !IsPermanent(cause),
		Cause:     cause,
	})
	if err != nil {
		logger.ErrorContext(ctx, "fail job failed", "error", err, "original_error", cause)
		return
	}
	logger.InfoContext(ctx, "job failed",
		"error", cause,
		"requeued", out.Requeued,
		"applied", out.Applied,
	)
}

// watchCancellation re-reads the job between handler steps and cancels the handler once the job is cancelled.
func (r *Runner) watchCancellation(ctx context.Context, cancel context.CancelCauseFunc, id string) {
	ticker := time.NewTicker(r.cfg.CancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := r.lifecycle.Get(ctx, id)
			if err != nil {
				continue
			}
			if job.Status == model.JobStatusCancelled {
				cancel(ErrJobCancelled)
				return
			}
		}
	}
}

func statusOf(j *model.Job) model.JobStatus {
	if j == nil {
		return ""
	}
	return j.Status
}
