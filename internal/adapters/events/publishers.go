// Package events provides non-Redis EventPublisher implementations: a log-only
// publisher for deployments without a transport and a fan-out across several.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/ports"
)

// LogPublisher writes terminal job events to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

var _ ports.EventPublisher = (*LogPublisher)(nil)

// NewLogPublisher creates a LogPublisher; a nil logger uses slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "job_events")}
}

// PublishJobEvent implements ports.EventPublisher.
func (p *LogPublisher) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	attrs := []any{
		"event_id", event.EventID,
		"job_id", event.JobID,
		"user_id", event.UserID,
		"status", event.Status,
		"occurred_at", event.OccurredAt,
	}
	if event.ResultID != nil {
		attrs = append(attrs, "result_id", *event.ResultID)
	}
	if event.ErrorMessage != nil {
		attrs = append(attrs, "error_message", *event.ErrorMessage)
	}
	p.logger.InfoContext(ctx, "job event", attrs...)
	return nil
}

// Registration names a publisher inside a Fanout so failures can be attributed.
type Registration struct {
	Name      string
	Publisher ports.EventPublisher
}

// Fanout delivers each event to every registered publisher.
// All publishers are attempted; their errors are joined.
type Fanout struct {
	publishers []Registration
}

var _ ports.EventPublisher = (*Fanout)(nil)

// NewFanout builds a Fanout, skipping nil publishers.
func NewFanout(regs ...Registration) *Fanout {
	kept := make([]Registration, 0, len(regs))
	for _, r := range regs {
		if r.Publisher != nil {
			kept = append(kept, r)
		}
	}
	return &Fanout{publishers: kept}
}

// Len reports the number of registered publishers.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.publishers)
}

// PublishJobEvent implements ports.EventPublisher.
func (f *Fanout) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, r := range f.publishers {
		if err := r.Publisher.PublishJobEvent(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
		}
	}
	return errors.Join(errs...)
}
