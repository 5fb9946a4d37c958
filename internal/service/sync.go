package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/metrics"
)

// SyncServiceOptions groups dependencies for SyncService.
type SyncServiceOptions struct {
	Jobs      core.JobRepository    // Required
	Results   core.ResultRepository // Required
	Finalizer *Finalizer            // Optional: refund and event when a job is advanced to terminal
	Logger    *slog.Logger
	Metrics   *metrics.Engine
}

// SyncService reconciles a job with its linked result. The more advanced side wins and nothing moves backwards.
type SyncService struct {
	jobs      core.JobRepository
	results   core.ResultRepository
	finalizer *Finalizer
	logger    *slog.Logger
	metrics   *metrics.Engine
}

// NewSyncService constructs a SyncService.
func NewSyncService(opts SyncServiceOptions) (*SyncService, error) {
	if opts.Jobs == nil {
		return nil, ErrRepoRequired
	}
	if opts.Results == nil {
		return nil, ErrResultsRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer = NewFinalizer(FinalizerOptions{Results: opts.Results, Logger: opts.Logger, Metrics: opts.Metrics})
	}
	return &SyncService{
		jobs:      opts.Jobs,
		results:   opts.Results,
		finalizer: finalizer,
		logger:    logger.With("component", "sync_service"),
		metrics:   opts.Metrics,
	}, nil
}

// Sync compares one job with its result and advances whichever side lags.
func (s *SyncService) Sync(ctx context.Context, jobID string) (model.SyncResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return model.SyncResult{JobID: jobID}, fmt.Errorf("get job: %w", err)
	}
	out := model.SyncResult{JobID: job.ID, ResultID: job.ResultID, JobStatus: job.Status, Action: model.SyncActionNone}

	res, linked, err := s.loadResult(ctx, job)
	switch {
	case errors.Is(err, model.ErrResultNotFound):
		if job.ResultID == nil {
			// Nothing to compare against yet.
			return s.done(out), nil
		}
		out.Orphaned = true
		out.Action = model.SyncActionOrphanFound
		s.logger.WarnContext(ctx, "job references missing result", "job_id", job.ID, "result_id", *job.ResultID)
		return s.done(out), nil
	case err != nil:
		return out, err
	}
	out.ResultID = &res.ID
	out.ResultStatus = res.Status
	if linked {
		out.Action = model.SyncActionLinkedResult
	}

	jobRank := model.StatusRank(job.Status)
	resRank := model.ResultStatusRank(res.Status)

	switch {
	case jobRank == resRank:
		if job.Status.Terminal() && model.ResultStatusForJob(job.Status) != res.Status {
			out.Conflict = true
			out.Action = model.SyncActionConflictFound
			s.logger.WarnContext(ctx, "job and result disagree on terminal status",
				"job_id", job.ID,
				"job_status", job.Status,
				"result_status", res.Status,
			)
		}
	case jobRank < resRank:
		advanced, err := s.advanceJob(ctx, job, res)
		if err != nil {
			return out, err
		}
		if advanced != nil {
			job = advanced
			out.JobStatus = advanced.Status
			out.Action = model.SyncActionAdvancedJob
			if advanced.Status.Terminal() {
				fin := s.finalizer.Finalize(ctx, advanced, FinalizeInput{})
				out.Refunded = fin.Refunded
			}
		}
	default:
		target := model.ResultStatusForJob(job.Status)
		updated, applied, err := s.results.UpdateStatus(ctx, core.UpdateResultParams{
			ID:           res.ID,
			Expected:     []model.ResultStatus{res.Status},
			Status:       target,
			ErrorMessage: job.ErrorMessage,
		})
		if err != nil {
			return out, fmt.Errorf("advance result: %w", err)
		}
		if applied {
			out.ResultStatus = updated.Status
			out.Action = model.SyncActionAdvancedRes
		}
	}

	// A terminal job whose refund never landed (crash, ledger outage) is repaired here.
	if !out.Refunded && job.Status.Refundable() && job.RefundedAt == nil && job.CreditCost > 0 {
		out.Refunded = s.finalizer.Refund(ctx, job)
	}
	return s.done(out), nil
}

// loadResult resolves the job's result, linking the eager result when result_id is still empty.
func (s *SyncService) loadResult(ctx context.Context, job *model.Job) (*model.Result, bool, error) {
	if job.ResultID != nil {
		res, err := s.results.GetByID(ctx, *job.ResultID)
		if err != nil && !errors.Is(err, model.ErrResultNotFound) {
			return nil, false, fmt.Errorf("get result: %w", err)
		}
		return res, false, err
	}

	res, err := s.results.GetByJobID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, model.ErrResultNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("get result by job: %w", err)
	}
	ok, err := s.jobs.LinkResult(ctx, job.ID, res.ID)
	if err != nil {
		return nil, false, fmt.Errorf("link result: %w", err)
	}
	if ok {
		job.ResultID = &res.ID
	}
	return res, ok, nil
}

func (s *SyncService) advanceJob(ctx context.Context, job *model.Job, res *model.Result) (*model.Job, error) {
	target := model.JobStatusForResult(res.Status)
	updated, applied, err := s.jobs.Reconcile(ctx, core.ReconcileParams{
		JobID:        job.ID,
		From:         job.Status,
		To:           target,
		ErrorMessage: res.ErrorMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("advance job: %w", err)
	}
	if !applied {
		s.logger.DebugContext(ctx, "job moved during sync", "job_id", job.ID, "expected", job.Status)
		return nil, nil
	}
	s.logger.InfoContext(ctx, "job advanced to match result",
		"job_id", job.ID,
		"from", job.Status,
		"to", updated.Status,
	)
	return updated, nil
}

func (s *SyncService) done(out model.SyncResult) model.SyncResult {
	s.metrics.SyncAction(out.Action)
	return out
}
