package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/ports"
)

const compensationTimeout = 5 * time.Second

// RefundServiceOptions groups dependencies for RefundService.
type RefundServiceOptions struct {
	Marker  core.RefundMarker   // Required: refunded_at guard
	Ledger  ports.CreditLedger  // Required: balance store
	Atomic  core.AtomicRefunder // Optional: marker and credit in one tx, used instead of Marker+Ledger
	Logger  *slog.Logger        // Optional: structured logger
	Metrics *metrics.Engine     // Optional: metrics fan-out
}

// RefundService restores a job's credits at most once.
type RefundService struct {
	marker  core.RefundMarker
	ledger  ports.CreditLedger
	atomic  core.AtomicRefunder
	logger  *slog.Logger
	metrics *metrics.Engine
}

// NewRefundService constructs a RefundService.
func NewRefundService(opts RefundServiceOptions) (*RefundService, error) {
	if opts.Marker == nil {
		return nil, ErrRepoRequired
	}
	if opts.Ledger == nil {
		return nil, ErrLedgerRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundService{
		marker:  opts.Marker,
		ledger:  opts.Ledger,
		atomic:  opts.Atomic,
		logger:  logger.With("component", "refund_service"),
		metrics: opts.Metrics,
	}, nil
}

// MustNewRefundService constructs a RefundService and panics on error.
func MustNewRefundService(opts RefundServiceOptions) *RefundService {
	svc, err := NewRefundService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create RefundService: %v", err))
	}
	return svc
}

// RefundIfNeeded credits job.CreditCost back to its owner when the job ended failed or cancelled.
// It reports true only for the call that actually moved the credits.
//
// With an AtomicRefunder the marker and the credit commit together. Otherwise the refunded_at marker
// is claimed before the external ledger is called and a ledger error clears it again so a later call can retry.
func (s *RefundService) RefundIfNeeded(ctx context.Context, job *model.Job) (bool, error) {
	if job == nil || !job.Status.Refundable() || job.CreditCost <= 0 || job.RefundedAt != nil {
		s.metrics.Refund(metrics.ResultNoop)
		return false, nil
	}
	if s.atomic != nil {
		return s.refundAtomically(ctx, job)
	}

	marked, ok, err := s.marker.MarkRefunded(ctx, job.ID)
	if err != nil {
		s.metrics.Refund(metrics.ResultError)
		return false, fmt.Errorf("mark job refunded: %w", err)
	}
	if !ok {
		s.metrics.Refund(metrics.ResultNoop)
		return false, nil
	}

	req := ports.RefundRequest{UserID: marked.UserID, JobID: marked.ID, Amount: marked.CreditCost}
	if err := s.ledger.Refund(ctx, req); err != nil {
		s.metrics.Refund(metrics.ResultError)
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		defer cancel()
		if clearErr := s.marker.ClearRefundMarker(clearCtx, job.ID); clearErr != nil {
			s.logger.ErrorContext(ctx, "refund marker left set after ledger failure",
				"job_id", job.ID,
				"error", clearErr,
			)
			err = errors.Join(err, fmt.Errorf("clear refund marker: %w", clearErr))
		}
		return false, fmt.Errorf("credit ledger refund: %w", err)
	}

	s.metrics.Refund(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "credits refunded",
		"job_id", marked.ID,
		"user_id", marked.UserID,
		"amount", marked.CreditCost,
		"status", marked.Status,
	)
	return true, nil
}

func (s *RefundService) refundAtomically(ctx context.Context, job *model.Job) (bool, error) {
	refunded, ok, err := s.atomic.RefundWithCredit(ctx, job.ID)
	if err != nil {
		s.metrics.Refund(metrics.ResultError)
		return false, fmt.Errorf("refund job: %w", err)
	}
	if !ok {
		s.metrics.Refund(metrics.ResultNoop)
		return false, nil
	}
	s.metrics.Refund(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "credits refunded",
		"job_id", refunded.ID,
		"user_id", refunded.UserID,
		"amount", refunded.CreditCost,
		"status", refunded.Status,
	)
	return true, nil
}
