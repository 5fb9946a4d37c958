package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/observability/notify"
	"github.com/target/assessment-jobs/internal/ports"
	"github.com/target/assessment-jobs/internal/service/failurenotifier"
)

// FinalizerOptions groups dependencies for Finalizer.
// Every field is optional; a zero Finalizer only logs.
type FinalizerOptions struct {
	Results         core.ResultRepository
	Refunds         *RefundService
	Events          ports.EventPublisher
	FailureNotifier *failurenotifier.Service
	Logger          *slog.Logger
	Metrics         *metrics.Engine
	Clock           func() time.Time
}

// Finalizer applies the side effects that follow a status change:
// the result mirror write, the refund, the terminal event and failure alerts.
type Finalizer struct {
	results  core.ResultRepository
	refunds  *RefundService
	events   ports.EventPublisher
	notifier *failurenotifier.Service
	logger   *slog.Logger
	metrics  *metrics.Engine
	clock    func() time.Time
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(opts FinalizerOptions) *Finalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Finalizer{
		results:  opts.Results,
		refunds:  opts.Refunds,
		events:   opts.Events,
		notifier: opts.FailureNotifier,
		logger:   logger.With("component", "finalizer"),
		metrics:  opts.Metrics,
		clock:    clock,
	}
}

// FinalizeInput carries what the caller knows beyond the job row.
type FinalizeInput struct {
	Output json.RawMessage
	// ResultWritten is set when the repository already moved the result with the job.
	ResultWritten bool
	// Reason is the notify.Reason* label for failure alerts.
	Reason     string
	ErrorClass string
}

// FinalizeOutcome reports which side effects took effect.
type FinalizeOutcome struct {
	ResultUpdated bool
	Refunded      bool
	Published     bool
}

// Finalize runs the side effects of a terminal job. Failures are logged and never undo the transition.
func (f *Finalizer) Finalize(ctx context.Context, job *model.Job, in FinalizeInput) FinalizeOutcome {
	var out FinalizeOutcome
	if job == nil || !job.Status.Terminal() {
		return out
	}

	if in.ResultWritten {
		out.ResultUpdated = true
	} else {
		out.ResultUpdated = f.MirrorResult(ctx, job, in.Output)
	}
	out.Refunded = f.Refund(ctx, job)
	out.Published = f.publish(ctx, job)

	if job.Status == model.JobStatusFailed {
		f.notifyFailure(ctx, job, in, out.Refunded)
	}
	return out
}

// MirrorResult moves the linked result to the status matching the job. It never moves a result backwards.
func (f *Finalizer) MirrorResult(ctx context.Context, job *model.Job, output json.RawMessage) bool {
	if f.results == nil || job == nil || job.ResultID == nil {
		return false
	}
	target := model.ResultStatusForJob(job.Status)
	expected := resultStatusesBelow(target)
	if len(expected) == 0 {
		return false
	}

	_, applied, err := f.results.UpdateStatus(ctx, core.UpdateResultParams{
		ID:           *job.ResultID,
		Expected:     expected,
		Status:       target,
		Output:       output,
		ErrorMessage: job.ErrorMessage,
	})
	if err != nil {
		f.logger.WarnContext(ctx, "result mirror write failed",
			"job_id", job.ID,
			"result_id", *job.ResultID,
			"target", target,
			"error", err,
		)
		return false
	}
	return applied
}

// ResetResult returns a processing result to queued when its job is re-queued for another attempt.
func (f *Finalizer) ResetResult(ctx context.Context, job *model.Job) bool {
	if f.results == nil || job == nil || job.ResultID == nil {
		return false
	}
	_, applied, err := f.results.UpdateStatus(ctx, core.UpdateResultParams{
		ID:           *job.ResultID,
		Expected:     []model.ResultStatus{model.ResultStatusProcessing},
		Status:       model.ResultStatusQueued,
		ErrorMessage: job.ErrorMessage,
	})
	if err != nil {
		f.logger.WarnContext(ctx, "result reset failed", "job_id", job.ID, "error", err)
		return false
	}
	return applied
}

// Refund runs the once-only refund for a job. It reports whether this call moved credits.
func (f *Finalizer) Refund(ctx context.Context, job *model.Job) bool {
	if f.refunds == nil {
		return false
	}
	refunded, err := f.refunds.RefundIfNeeded(ctx, job)
	if err != nil {
		f.logger.ErrorContext(ctx, "refund failed", "job_id", job.ID, "error", err)
		return false
	}
	return refunded
}

func (f *Finalizer) publish(ctx context.Context, job *model.Job) bool {
	event := model.NewJobEvent(job, f.clock().UTC())
	if f.events == nil {
		f.logger.DebugContext(ctx, "terminal job event",
			"event_id", event.EventID,
			"user_id", event.UserID,
			"status", event.Status,
		)
		return false
	}
	if err := f.events.PublishJobEvent(ctx, event); err != nil {
		f.metrics.EventPublished(metrics.ResultError)
		f.logger.WarnContext(ctx, "publish job event failed",
			"event_id", event.EventID,
			"error", err,
		)
		return false
	}
	f.metrics.EventPublished(metrics.ResultSuccess)
	return true
}

func (f *Finalizer) notifyFailure(ctx context.Context, job *model.Job, in FinalizeInput, refunded bool) {
	if !f.notifier.Enabled() {
		return
	}
	reason := in.Reason
	if reason == "" {
		reason = notify.ReasonWorkerError
	}
	severity := notify.SeverityWarning
	if reason != notify.ReasonWorkerError {
		severity = notify.SeverityCritical
	}

	payload := notify.JobFailurePayload{
		JobID:      job.ID,
		JobType:    string(job.Type),
		UserID:     job.UserID,
		Reason:     reason,
		ErrorClass: in.ErrorClass,
		Severity:   severity,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		Refunded:   refunded,
		OccurredAt: f.clock().UTC(),
		Metadata: map[string]string{
			"status":      string(job.Status),
			"credit_cost": strconv.Itoa(job.CreditCost),
		},
	}
	if job.ResultID != nil {
		payload.ResultID = *job.ResultID
	}
	if job.ErrorMessage != nil {
		payload.Error = *job.ErrorMessage
	}
	f.notifier.NotifyJobFailure(ctx, payload)
}

// resultStatusesBelow lists the result statuses a write to target may move from.
func resultStatusesBelow(target model.ResultStatus) []model.ResultStatus {
	rank := model.ResultStatusRank(target)
	var out []model.ResultStatus
	for _, s := range []model.ResultStatus{model.ResultStatusQueued, model.ResultStatusProcessing} {
		if model.ResultStatusRank(s) < rank {
			out = append(out, s)
		}
	}
	return out
}
