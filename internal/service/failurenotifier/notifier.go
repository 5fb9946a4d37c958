// Package failurenotifier fans job failure alerts out to the configured sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/assessment-jobs/internal/observability/notify"
	"golang.org/x/sync/errgroup"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Timeout bounds each sink delivery. Zero means the caller's context only.
	Timeout time.Duration
	// CriticalOnly drops warning-severity payloads.
	CriticalOnly bool
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger       *slog.Logger
	sinks        []SinkRegistration
	timeout      time.Duration
	criticalOnly bool
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failure_notifier")

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger:       logger,
		sinks:        sinks,
		timeout:      opts.Timeout,
		criticalOnly: opts.CriticalOnly,
	}
}

// NotifyJobFailure fan-outs the job failure payload to all sinks and waits for every delivery.
// Delivery errors are logged, never returned.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if s.criticalOnly && payload.Severity != notify.SeverityCritical {
		s.logger.DebugContext(ctx, "skipping non-critical failure notification",
			"job_id", payload.JobID,
			"severity", payload.Severity,
		)
		return
	}

	var g errgroup.Group
	for _, entry := range s.sinks {
		g.Go(func() error {
			deliverCtx := ctx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				deliverCtx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			if err := entry.Sink.SendJobFailure(deliverCtx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"reason", payload.Reason,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
