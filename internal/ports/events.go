package ports

import (
	"context"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// EventPublisher hands terminal job events to the notification transport.
// Delivery is at-least-once; consumers dedupe on JobEvent.EventID.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event model.JobEvent) error
}

// EventPublisherFunc adapts a function to the EventPublisher interface (useful for tests).
type EventPublisherFunc func(ctx context.Context, event model.JobEvent) error

// PublishJobEvent implements EventPublisher.
func (f EventPublisherFunc) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}
