package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/metrics"
)

// Per-id failure reasons reported by BulkCancel.
const (
	BulkReasonNotFound         = "not found"
	BulkReasonInvalidID        = "invalid id"
	BulkReasonAlreadyCancelled = "already cancelled"
	BulkReasonInternal         = "internal error"
)

// BulkServiceOptions groups dependencies for BulkService.
type BulkServiceOptions struct {
	Jobs      core.JobRepository // Required
	Finalizer *Finalizer         // Optional: refund and terminal event per cancelled job
	BatchSize int                // Optional: defaults to and is capped at config.MaxBulkBatch
	Logger    *slog.Logger
	Metrics   *metrics.Engine
}

// BulkService cancels many jobs at once, isolating per-id failures.
type BulkService struct {
	jobs      core.JobRepository
	finalizer *Finalizer
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Engine
}

// NewBulkService constructs a BulkService.
func NewBulkService(opts BulkServiceOptions) (*BulkService, error) {
	if opts.Jobs == nil {
		return nil, ErrRepoRequired
	}
	size := opts.BatchSize
	if size <= 0 || size > config.MaxBulkBatch {
		size = config.MaxBulkBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer = NewFinalizer(FinalizerOptions{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	return &BulkService{
		jobs:      opts.Jobs,
		finalizer: finalizer,
		batchSize: size,
		logger:    logger.With("component", "bulk_service"),
		metrics:   opts.Metrics,
	}, nil
}

// BulkCancel cancels every queued or processing job in ids. It only fails when ctx ends;
// everything else is reported per id in the result.
func (s *BulkService) BulkCancel(ctx context.Context, ids []string, reason string) (model.BulkResult, error) {
	out := model.BulkResult{Successful: []string{}, Failed: []model.BulkFailure{}}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.DefaultCancelledMessage
	}

	valid := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := uuid.Parse(id); err != nil {
			out.Failed = append(out.Failed, model.BulkFailure{ID: raw, Reason: BulkReasonInvalidID})
			continue
		}
		valid = append(valid, id)
	}

	for start := 0; start < len(valid); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+s.batchSize, len(valid))
		s.cancelBatch(ctx, valid[start:end], reason, &out)
		out.Batches++
	}

	s.metrics.BulkCancel(len(out.Successful), len(out.Failed))
	s.logger.InfoContext(ctx, "bulk cancel finished",
		"requested", len(ids),
		"successful", len(out.Successful),
		"failed", len(out.Failed),
		"batches", out.Batches,
	)
	return out, nil
}

func (s *BulkService) cancelBatch(ctx context.Context, batch []string, reason string, out *model.BulkResult) {
	cancelled, err := s.jobs.CancelBatch(ctx, batch, reason)
	if err != nil {
		s.logger.ErrorContext(ctx, "bulk cancel batch failed", "size", len(batch), "error", err)
		for _, id := range batch {
			out.Failed = append(out.Failed, model.BulkFailure{ID: id, Reason: BulkReasonInternal})
		}
		return
	}

	done := make(map[string]struct{}, len(cancelled))
	for _, job := range cancelled {
		done[job.ID] = struct{}{}
		out.Successful = append(out.Successful, job.ID)
		s.finalizer.Finalize(ctx, job, FinalizeInput{})
	}

	rest := make([]string, 0, len(batch)-len(cancelled))
	for _, id := range batch {
		if _, ok := done[id]; !ok {
			rest = append(rest, id)
		}
	}
	if len(rest) == 0 {
		return
	}

	statuses, err := s.jobs.StatusesByID(ctx, rest)
	if err != nil {
		s.logger.ErrorContext(ctx, "classify bulk cancel leftovers failed", "error", err)
		statuses = nil
	}
	for _, id := range rest {
		out.Failed = append(out.Failed, model.BulkFailure{ID: id, Reason: classifyLeftover(statuses, id, err)})
	}
}

func classifyLeftover(statuses map[string]model.JobStatus, id string, lookupErr error) string {
	if lookupErr != nil {
		return BulkReasonInternal
	}
	status, ok := statuses[id]
	switch {
	case !ok:
		return BulkReasonNotFound
	case status == model.JobStatusCancelled:
		return BulkReasonAlreadyCancelled
	default:
		return fmt.Sprintf("illegal transition from %s", status)
	}
}
