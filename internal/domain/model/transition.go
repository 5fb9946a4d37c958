package model

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a caller requests an edge outside the job state machine.
var ErrIllegalTransition = errors.New("illegal job status transition")

// legalTransitions lists every permitted edge. processing -> queued is the retry edge.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusQueued},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a wrapped ErrIllegalTransition when from -> to is not legal.
func ValidateTransition(from, to JobStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// TransitionError describes a rejected edge.
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition.Error(), e.From, e.To)
}

// Unwrap lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// StatusRank orders statuses for reconciliation: queued < processing < terminal.
// All terminal statuses share the top rank.
func StatusRank(s JobStatus) int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 2
	default:
		return -1
	}
}

// ResultStatusRank mirrors StatusRank for result statuses.
func ResultStatusRank(s ResultStatus) int {
	switch s {
	case ResultStatusQueued:
		return 0
	case ResultStatusProcessing:
		return 1
	case ResultStatusCompleted, ResultStatusFailed:
		return 2
	default:
		return -1
	}
}

// TransitionRequest is the single worker-facing entry point into the state machine.
type TransitionRequest struct {
	JobID        string    `json:"job_id"`
	To           JobStatus `json:"to"`
	Output       []byte    `json:"output,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	// Retryable marks a failure as transient. Ignored for other targets.
	Retryable bool `json:"retryable,omitempty"`
}

// TransitionOutcome reports what a transition call did.
type TransitionOutcome struct {
	// Applied is false when another writer already moved the job past the expected state.
	Applied bool `json:"applied"`
	// Requeued is true when a retryable failure sent the job back to queued.
	Requeued bool `json:"requeued,omitempty"`
	// Refunded is true when this call restored the job's credits.
	Refunded bool `json:"refunded,omitempty"`
	Job      *Job `json:"job,omitempty"`
}
