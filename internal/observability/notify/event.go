// Package notify defines the payload and sink contract for job failure alerts.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Failure reasons attached to JobFailurePayload.Reason.
const (
	ReasonWorkerError    = "worker_error"
	ReasonStuckTimeout   = "stuck_timeout"
	ReasonRetryExhausted = "retry_exhausted"
)

// JobFailurePayload captures the canonical data we emit for job failure notifications.
type JobFailurePayload struct {
	JobID      string
	JobType    string
	UserID     string
	ResultID   string
	Reason     string
	Error      string
	ErrorClass string
	Severity   string
	RetryCount int
	MaxRetries int
	Refunded   bool
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
