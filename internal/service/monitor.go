package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/observability/notify"
)

// MonitorServiceOptions groups dependencies for MonitorService.
type MonitorServiceOptions struct {
	Repo      core.MonitorRepository // Required: monitor repository
	Config    config.MonitorConfig   // Required: monitor configuration
	Finalizer *Finalizer             // Optional: refund, event and alert per failed job
	Logger    *slog.Logger           // Optional: structured logger
	Metrics   *metrics.Engine        // Optional: metrics fan-out
	Clock     func() time.Time       // Optional: defaults to time.Now
}

// MonitorService fails jobs that stopped making progress.
//
// Each sweep runs three steps:
// - processing jobs started longer ago than the processing timeout,
// - queued jobs created longer ago than the queued timeout,
// - queued jobs with no retry budget left.
type MonitorService struct {
	repo      core.MonitorRepository
	config    config.MonitorConfig
	finalizer *Finalizer
	logger    *slog.Logger
	metrics   *metrics.Engine
	clock     func() time.Time
}

// NewMonitorService constructs a new MonitorService.
func NewMonitorService(opts MonitorServiceOptions) (*MonitorService, error) {
	if opts.Repo == nil {
		return nil, errors.New("MonitorRepository is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor_service")
	logger.Debug("MonitorService initialized",
		"interval", cfg.Interval,
		"processing_timeout", cfg.ProcessingTimeout(),
		"queued_timeout", cfg.QueuedTimeout(),
		"batch_size", cfg.BatchSize,
	)

	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer = NewFinalizer(FinalizerOptions{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &MonitorService{
		repo:      opts.Repo,
		config:    cfg,
		finalizer: finalizer,
		logger:    logger,
		metrics:   opts.Metrics,
		clock:     clock,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *MonitorService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting monitor service", "interval", s.config.Interval)

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.Sweep(ctx); err != nil {
		s.logSweepError(ctx, err, "initial sweep")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *MonitorService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *MonitorService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "monitor service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				// Keep sweeping on the next tick.
				s.logSweepError(ctx, err, "sweep")
			}
		}
	}
}

// Sweep measures the stuck buckets and then fails every stuck job it can lock.
// An empty database and a lock held by another sweeper are both successful no-op sweeps.
func (s *MonitorService) Sweep(ctx context.Context) (model.SweepReport, error) {
	start := s.clock()
	report := model.SweepReport{LockAcquired: true}
	var (
		errs               []error
		allContextCanceled = true
	)

	buckets, err := s.repo.StuckBuckets(ctx, start)
	if err != nil {
		errs = append(errs, fmt.Errorf("count stuck jobs: %w", err))
		allContextCanceled = isContextCancellation(err)
	}
	report.Buckets = buckets

	steps := []sweepStep{
		{
			params: core.FailStaleParams{
				Kind:    core.StaleProcessing,
				Cutoff:  start.Add(-s.config.ProcessingTimeout()),
				Message: model.StuckJobTimeoutMessage,
			},
			reason: notify.ReasonStuckTimeout,
			count:  &report.TransitionedProcessing,
		},
		{
			params: core.FailStaleParams{
				Kind:    core.StaleQueued,
				Cutoff:  start.Add(-s.config.QueuedTimeout()),
				Message: model.StuckJobTimeoutMessage,
			},
			reason: notify.ReasonStuckTimeout,
			count:  &report.TransitionedQueued,
		},
		{
			params: core.FailStaleParams{
				Kind:    core.StaleExhausted,
				Cutoff:  start,
				Message: model.RetryExhaustedMessage,
			},
			reason: notify.ReasonRetryExhausted,
			count:  &report.TransitionedExhausted,
		},
	}

	for _, step := range steps {
		step.params.BatchSize = s.config.BatchSize
		outcome := s.executeStep(ctx, step)
		*step.count = outcome.transitioned
		report.Refunded += outcome.refunded
		if !outcome.locked {
			report.LockAcquired = false
		}
		if outcome.err != nil {
			errs = append(errs, fmt.Errorf("fail stale %s jobs: %w", step.params.Kind, outcome.err))
			allContextCanceled = allContextCanceled && isContextCancellation(outcome.err)
		}
	}

	report.Duration = s.clock().Sub(start)
	s.metrics.Sweep(report)

	if report.Transitioned() > 0 || report.Buckets.Processing30m > 0 || report.Buckets.Queued24h > 0 {
		s.logger.InfoContext(ctx, "stuck job sweep finished",
			"stuck_processing_1h", report.Buckets.Processing1h,
			"stuck_processing_30m", report.Buckets.Processing30m,
			"stuck_queued_24h", report.Buckets.Queued24h,
			"transitioned_processing", report.TransitionedProcessing,
			"transitioned_queued", report.TransitionedQueued,
			"transitioned_exhausted", report.TransitionedExhausted,
			"refunded", report.Refunded,
			"lock_acquired", report.LockAcquired,
			"duration", report.Duration,
		)
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return report, context.Canceled
		}
		return report, fmt.Errorf("sweep failed: %w", joined)
	}
	return report, nil
}

type sweepStep struct {
	params core.FailStaleParams
	reason string
	count  *int
}

type sweepStepOutcome struct {
	transitioned int
	refunded     int
	locked       bool
	err          error
}

// executeStep loops one stale population in batches until a batch comes back empty.
func (s *MonitorService) executeStep(ctx context.Context, step sweepStep) sweepStepOutcome {
	out := sweepStepOutcome{locked: true}
	for {
		res, err := s.repo.FailStaleJobs(ctx, step.params)
		if err != nil {
			out.err = err
			return out
		}
		if !res.Locked {
			out.locked = false
			s.logger.DebugContext(ctx, "another sweeper holds the lock", "kind", step.params.Kind)
			return out
		}
		if len(res.Jobs) == 0 {
			return out
		}

		for _, job := range res.Jobs {
			fin := s.finalizer.Finalize(ctx, job, FinalizeInput{Reason: step.reason})
			if fin.Refunded {
				out.refunded++
			}
		}
		out.transitioned += len(res.Jobs)

		// Check context between batches
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}
	}
}

func (s *MonitorService) logSweepError(ctx context.Context, err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}
