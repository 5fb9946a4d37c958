package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/assessment-jobs/internal/core"
	domainjob "github.com/target/assessment-jobs/internal/domain/job"
	"github.com/target/assessment-jobs/internal/domain/model"
	obserrors "github.com/target/assessment-jobs/internal/observability/errors"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/observability/notify"
)

// SubmitJobRequest is the submission accepted by LifecycleService.Submit.
type SubmitJobRequest = model.CreateJobRequest

// FailRequest describes a worker-reported failure.
type FailRequest struct {
	Message string
	// Retryable marks the failure as transient; the job is re-queued while budget remains.
	Retryable bool
	// Cause is optional and only used to classify the failure for metrics and alerts.
	Cause error
}

// LifecycleServiceOptions groups dependencies for LifecycleService.
type LifecycleServiceOptions struct {
	Jobs      core.JobRepository     // Required: job repository
	Finalizer *Finalizer             // Optional: terminal side effects (logs only when nil)
	Syncer    *SyncService           // Optional: consistency check after each worker write
	Policy    *domainjob.RetryPolicy // Optional: defaults to 5s base and 3 retries
	Logger    *slog.Logger           // Optional: structured logger
	Metrics   *metrics.Engine        // Optional: metrics fan-out
}

// LifecycleService drives jobs through the state machine.
//
// Every write is conditional on the status read just before it. A write that matches no row
// means another writer got there first and is reported as Applied=false with a nil error.
type LifecycleService struct {
	jobs      core.JobRepository
	finalizer *Finalizer
	syncer    *SyncService
	policy    *domainjob.RetryPolicy
	logger    *slog.Logger
	metrics   *metrics.Engine
}

// NewLifecycleService constructs a new LifecycleService.
func NewLifecycleService(opts LifecycleServiceOptions) (*LifecycleService, error) {
	if opts.Jobs == nil {
		return nil, ErrRepoRequired
	}

	policy := opts.Policy
	if policy == nil {
		var err error
		policy, err = domainjob.NewRetryPolicy(5*time.Second, 3)
		if err != nil {
			return nil, fmt.Errorf("create retry policy: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lifecycle_service")

	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer = NewFinalizer(FinalizerOptions{Logger: opts.Logger, Metrics: opts.Metrics})
	}

	logger.Debug("LifecycleService initialized", "retry_base", policy.Base())

	return &LifecycleService{
		jobs:      opts.Jobs,
		finalizer: finalizer,
		syncer:    opts.Syncer,
		policy:    policy,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// MustNewLifecycleService constructs a new LifecycleService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewLifecycleService(opts LifecycleServiceOptions) *LifecycleService {
	svc, err := NewLifecycleService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create LifecycleService: %v", err))
	}
	return svc
}

// Submit validates and stores a new queued job together with its queued result.
func (s *LifecycleService) Submit(ctx context.Context, req *SubmitJobRequest) (*model.Job, *model.Result, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	budget := s.policy.ResolveMaxRetries(req.MaxRetries)
	job, result, err := s.jobs.Create(ctx, core.CreateJobParams{Request: req, MaxRetries: budget.MaxRetries})
	if err != nil {
		s.record(string(req.Type), "submit", err, 0)
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	s.record(string(job.Type), "submit", nil, 0)
	s.logger.DebugContext(ctx, "job submitted",
		"id", job.ID,
		"type", job.Type,
		"user_id", job.UserID,
		"priority", job.Priority,
		"max_retries", job.MaxRetries,
		"default_budget", budget.UsedDefault(),
	)
	return job, result, nil
}

// Get returns one job.
func (s *LifecycleService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNext hands up to n eligible jobs of the given types (any type when empty) to the caller under a claim lease.
func (s *LifecycleService) ClaimNext(ctx context.Context, n int, types ...model.JobType) ([]*model.Job, error) {
	jobs, err := s.jobs.ClaimNext(ctx, n, types...)
	if err != nil {
		s.record("", "claim", err, 0)
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	for _, j := range jobs {
		s.record(string(j.Type), "claim", nil, 0)
	}
	return jobs, nil
}

// WaitForNotification blocks until a job is submitted or ctx ends and returns the submitted job's type.
func (s *LifecycleService) WaitForNotification(ctx context.Context) (model.JobType, error) {
	return s.jobs.WaitForNotification(ctx)
}

// Start moves a claimed job to processing.
func (s *LifecycleService) Start(ctx context.Context, id string) (model.TransitionOutcome, error) {
	out, err := s.transition(ctx, id, model.JobStatusProcessing, "start", nil)
	if err != nil || !out.Applied {
		return out, err
	}
	s.finalizer.MirrorResult(ctx, out.Job, nil)
	s.syncAfterWrite(ctx, id)
	return out, nil
}

// Complete records a successful run. The output lands on the result in the same write as the status,
// so an error here leaves the job processing and the caller may report the completion again.
func (s *LifecycleService) Complete(ctx context.Context, id string, output []byte) (model.TransitionOutcome, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.TransitionOutcome{}, err
	}
	if err := model.ValidateTransition(current.Status, model.JobStatusCompleted); err != nil {
		s.record(string(current.Type), "complete", err, 0)
		return model.TransitionOutcome{Job: current}, err
	}
	out, err := s.apply(ctx, current, core.TransitionParams{
		JobID: id, From: current.Status, To: model.JobStatusCompleted, Output: output,
	}, "complete", nil)
	if err != nil || !out.Applied {
		return out, err
	}
	fin := s.finalizer.Finalize(ctx, out.Job, FinalizeInput{ResultWritten: true})
	out.Refunded = fin.Refunded
	s.syncAfterWrite(ctx, id)
	return out, nil
}

// Fail records a failed run. Retryable failures re-queue the job while its budget lasts.
func (s *LifecycleService) Fail(ctx context.Context, id string, req FailRequest) (model.TransitionOutcome, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		msg = "job failed"
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return model.TransitionOutcome{}, err
	}
	if err := model.ValidateTransition(current.Status, model.JobStatusFailed); err != nil {
		s.record(string(current.Type), "fail", err, 0)
		return model.TransitionOutcome{Job: current}, err
	}

	reason := notify.ReasonWorkerError
	if req.Retryable {
		if current.RetryBudgetLeft() {
			out, retried, err := s.requeue(ctx, current, &msg)
			if err != nil || retried {
				return out, err
			}
			// The budget guard or a concurrent writer refused the re-queue; fall through on a fresh read.
			if current, err = s.Get(ctx, id); err != nil {
				return model.TransitionOutcome{}, err
			}
			if current.Status != model.JobStatusProcessing {
				return model.TransitionOutcome{Job: current}, nil
			}
		}
		reason = notify.ReasonRetryExhausted
	}

	out, err := s.apply(ctx, current, core.TransitionParams{
		JobID: id, From: current.Status, To: model.JobStatusFailed, ErrorMessage: &msg,
	}, "fail", req.Cause)
	if err != nil || !out.Applied {
		return out, err
	}
	errorClass := ""
	if req.Cause != nil {
		errorClass = obserrors.Classify(req.Cause)
	}
	fin := s.finalizer.Finalize(ctx, out.Job, FinalizeInput{Reason: reason, ErrorClass: errorClass})
	out.Refunded = fin.Refunded
	s.syncAfterWrite(ctx, id)
	return out, nil
}

// Retry re-queues a processing job explicitly. It fails with ErrRetryBudgetExhausted when no attempts remain.
func (s *LifecycleService) Retry(ctx context.Context, id, message string) (model.TransitionOutcome, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.TransitionOutcome{}, err
	}
	if err := model.ValidateTransition(current.Status, model.JobStatusQueued); err != nil {
		return model.TransitionOutcome{Job: current}, err
	}
	if !current.RetryBudgetLeft() {
		return model.TransitionOutcome{Job: current}, fmt.Errorf("%w: %w", model.ErrIllegalTransition, ErrRetryBudgetExhausted)
	}
	var msg *string
	if m := strings.TrimSpace(message); m != "" {
		msg = &m
	}
	out, _, err := s.requeue(ctx, current, msg)
	return out, err
}

// Cancel cancels a queued or processing job and refunds it.
func (s *LifecycleService) Cancel(ctx context.Context, id, reason string) (model.TransitionOutcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.DefaultCancelledMessage
	}
	out, err := s.transition(ctx, id, model.JobStatusCancelled, "cancel", &reason)
	if err != nil || !out.Applied {
		return out, err
	}
	fin := s.finalizer.Finalize(ctx, out.Job, FinalizeInput{})
	out.Refunded = fin.Refunded
	return out, nil
}

// TransitionTo is the single worker-facing entry point: it dispatches on req.To.
func (s *LifecycleService) TransitionTo(ctx context.Context, req model.TransitionRequest) (model.TransitionOutcome, error) {
	switch req.To {
	case model.JobStatusProcessing:
		return s.Start(ctx, req.JobID)
	case model.JobStatusCompleted:
		return s.Complete(ctx, req.JobID, req.Output)
	case model.JobStatusFailed:
		return s.Fail(ctx, req.JobID, FailRequest{Message: req.ErrorMessage, Retryable: req.Retryable})
	case model.JobStatusCancelled:
		return s.Cancel(ctx, req.JobID, req.ErrorMessage)
	case model.JobStatusQueued:
		return s.Retry(ctx, req.JobID, req.ErrorMessage)
	default:
		return model.TransitionOutcome{}, fmt.Errorf("%w: unknown target status %q", ErrInvalidRequest, req.To)
	}
}

// transition reads the job, checks the edge against its persisted status and applies it.
func (s *LifecycleService) transition(
	ctx context.Context,
	id string,
	to model.JobStatus,
	label string,
	message *string,
) (model.TransitionOutcome, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.TransitionOutcome{}, err
	}
	if err := model.ValidateTransition(current.Status, to); err != nil {
		s.record(string(current.Type), label, err, 0)
		return model.TransitionOutcome{Job: current}, err
	}
	return s.apply(ctx, current, core.TransitionParams{
		JobID: id, From: current.Status, To: to, ErrorMessage: message,
	}, label, nil)
}

func (s *LifecycleService) apply(
	ctx context.Context,
	current *model.Job,
	params core.TransitionParams,
	label string,
	cause error,
) (model.TransitionOutcome, error) {
	updated, ok, err := s.jobs.Transition(ctx, params)
	if err != nil {
		s.record(string(current.Type), label, err, 0)
		return model.TransitionOutcome{Job: current}, fmt.Errorf("%s job: %w", label, err)
	}
	if !ok {
		return s.lostRace(ctx, current, label)
	}

	s.record(string(updated.Type), label, cause, runDuration(updated))
	s.logger.DebugContext(ctx, "job transitioned",
		"id", updated.ID,
		"from", params.From,
		"to", updated.Status,
	)
	return model.TransitionOutcome{Applied: true, Job: updated}, nil
}

func (s *LifecycleService) requeue(ctx context.Context, current *model.Job, msg *string) (model.TransitionOutcome, bool, error) {
	updated, ok, err := s.jobs.Transition(ctx, core.TransitionParams{
		JobID:        current.ID,
		From:         model.JobStatusProcessing,
		To:           model.JobStatusQueued,
		ErrorMessage: msg,
		RetryBackoff: s.policy.Base(),
	})
	if err != nil {
		s.record(string(current.Type), "retry", err, 0)
		return model.TransitionOutcome{Job: current}, false, fmt.Errorf("requeue job: %w", err)
	}
	if !ok {
		return model.TransitionOutcome{Job: current}, false, nil
	}

	s.record(string(updated.Type), "retry", nil, 0)
	s.finalizer.ResetResult(ctx, updated)
	s.logger.InfoContext(ctx, "job re-queued for retry",
		"id", updated.ID,
		"retry_count", updated.RetryCount,
		"max_retries", updated.MaxRetries,
		"next_eligible_at", updated.NextEligibleAt,
	)
	s.syncAfterWrite(ctx, updated.ID)
	return model.TransitionOutcome{Applied: true, Requeued: true, Job: updated}, true, nil
}

// lostRace re-reads a job whose conditional write matched no row.
func (s *LifecycleService) lostRace(ctx context.Context, current *model.Job, label string) (model.TransitionOutcome, error) {
	s.recordResult(string(current.Type), label, metrics.ResultNoop, nil, 0)
	latest, err := s.jobs.GetByID(ctx, current.ID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return model.TransitionOutcome{}, nil
		}
		return model.TransitionOutcome{Job: current}, fmt.Errorf("re-read job: %w", err)
	}
	s.logger.DebugContext(ctx, "transition lost race",
		"id", current.ID,
		"expected", current.Status,
		"actual", latest.Status,
		"transition", label,
	)
	return model.TransitionOutcome{Job: latest}, nil
}

func (s *LifecycleService) syncAfterWrite(ctx context.Context, id string) {
	if s.syncer == nil {
		return
	}
	res, err := s.syncer.Sync(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "post-write sync failed", "id", id, "error", err)
		return
	}
	if res.Action != model.SyncActionNone {
		s.logger.InfoContext(ctx, "post-write sync repaired drift", "id", id, "action", res.Action)
	}
}

func (s *LifecycleService) record(jobType, transition string, err error, d time.Duration) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	s.recordResult(jobType, transition, result, err, d)
}

func (s *LifecycleService) recordResult(jobType, transition, result string, err error, d time.Duration) {
	s.metrics.Transition(metrics.JobMetric{
		JobType:    jobType,
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}

func runDuration(j *model.Job) time.Duration {
	if j == nil || j.ProcessingStartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.ProcessingStartedAt)
}
