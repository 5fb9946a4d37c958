// Package model defines the core data types shared by the assessment job engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType tags the kind of work a job carries. The engine never inspects the
// payload; workers dispatch on this tag.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeAssessment runs an AI assessment over the submitted input.
	JobTypeAssessment JobType = "assessment"
	// JobTypeReassessment reruns an assessment against an updated input.
	JobTypeReassessment JobType = "reassessment"
	// JobTypeReport renders a report from a finished assessment.
	JobTypeReport JobType = "report"

	// JobStatusQueued indicates a job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker has started the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job terminated in failure.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a user or operator cancelled the job.
	JobStatusCancelled JobStatus = "cancelled"
)

// Error messages written by the engine itself.
const (
	StuckJobTimeoutMessage  = "stuck job timeout"
	RetryExhaustedMessage   = "retry budget exhausted"
	DefaultCancelledMessage = "cancelled by user"
)

// MaxPriority bounds the priority accepted on submission.
const MaxPriority = 100

var (
	// ErrNoJobsAvailable is returned when no jobs are available for claiming.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrJobNotFound is returned by stores when a job id does not resolve.
	ErrJobNotFound = errors.New("job not found")
	// ErrResultNotFound is returned by stores when a result id does not resolve.
	ErrResultNotFound = errors.New("result not found")
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeAssessment || t == JobTypeReassessment || t == JobTypeReport
}

// JobTypes lists every job type the engine accepts.
func JobTypes() []JobType {
	return []JobType{JobTypeAssessment, JobTypeReassessment, JobTypeReport}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Refundable reports whether a job in this status owes the user its credits back.
func (s JobStatus) Refundable() bool {
	return s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a unit of asynchronous work with its lifecycle metadata.
type Job struct {
	ID                  string          `json:"id"                              db:"id"`
	UserID              string          `json:"user_id"                         db:"user_id"`
	Type                JobType         `json:"type"                            db:"type"`
	Status              JobStatus       `json:"status"                          db:"status"`
	Priority            int             `json:"priority"                        db:"priority"`
	Payload             json.RawMessage `json:"payload"                         db:"payload"`
	RetryCount          int             `json:"retry_count"                     db:"retry_count"`
	MaxRetries          int             `json:"max_retries"                     db:"max_retries"`
	CreditCost          int             `json:"credit_cost"                     db:"credit_cost"`
	ResultID            *string         `json:"result_id,omitempty"             db:"result_id"`
	ErrorMessage        *string         `json:"error_message,omitempty"         db:"error_message"`
	NextEligibleAt      time.Time       `json:"next_eligible_at"                db:"next_eligible_at"`
	ClaimedUntil        *time.Time      `json:"claimed_until,omitempty"         db:"claimed_until"`
	ClaimToken          *string         `json:"claim_token,omitempty"           db:"claim_token"`
	RefundedAt          *time.Time      `json:"refunded_at,omitempty"           db:"refunded_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty" db:"processing_started_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"          db:"completed_at"`
	CreatedAt           time.Time       `json:"created_at"                      db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"                      db:"updated_at"`
}

// RetryBudgetLeft reports whether a recoverable failure may re-queue the job.
func (j *Job) RetryBudgetLeft() bool {
	return j.RetryCount < j.MaxRetries
}

// CreateJobRequest represents a request to submit a new job.
type CreateJobRequest struct {
	UserID     string          `json:"user_id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	CreditCost int             `json:"credit_cost,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if r.Priority < 0 || r.Priority > MaxPriority {
		return fmt.Errorf("priority must be between 0 and %d", MaxPriority)
	}
	// A job with no attempts left is never claimable.
	if r.MaxRetries != nil && *r.MaxRetries < 1 {
		return errors.New("max retries must be >= 1")
	}
	if r.CreditCost < 0 {
		return errors.New("credit cost must be >= 0")
	}
	return nil
}
