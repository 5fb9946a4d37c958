package model

import (
	"encoding/json"
	"time"
)

// ResultStatus represents the status of a result record.
type ResultStatus string

const (
	ResultStatusQueued     ResultStatus = "queued"
	ResultStatusProcessing ResultStatus = "processing"
	ResultStatusCompleted  ResultStatus = "completed"
	ResultStatusFailed     ResultStatus = "failed"
)

// Valid returns true if the ResultStatus is valid.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusQueued, ResultStatusProcessing, ResultStatusCompleted, ResultStatusFailed:
		return true
	default:
		return false
	}
}

// ResultStatusForJob maps a job status onto the result vocabulary.
// Results have no cancelled state; a cancelled job's result is failed.
func ResultStatusForJob(s JobStatus) ResultStatus {
	switch s {
	case JobStatusQueued:
		return ResultStatusQueued
	case JobStatusProcessing:
		return ResultStatusProcessing
	case JobStatusCompleted:
		return ResultStatusCompleted
	default:
		return ResultStatusFailed
	}
}

// JobStatusForResult maps a result status onto the job vocabulary.
func JobStatusForResult(s ResultStatus) JobStatus {
	switch s {
	case ResultStatusProcessing:
		return JobStatusProcessing
	case ResultStatusCompleted:
		return JobStatusCompleted
	case ResultStatusFailed:
		return JobStatusFailed
	default:
		return JobStatusQueued
	}
}

// Result is the durable outcome record linked 1:1 to a job.
type Result struct {
	ID            string          `json:"id"                       db:"id"`
	JobID         *string         `json:"job_id,omitempty"         db:"job_id"`
	UserID        string          `json:"user_id"                  db:"user_id"`
	Status        ResultStatus    `json:"status"                   db:"status"`
	InputPayload  json.RawMessage `json:"input_payload"            db:"input_payload"`
	OutputPayload json.RawMessage `json:"output_payload,omitempty" db:"output_payload"`
	ErrorMessage  *string         `json:"error_message,omitempty"  db:"error_message"`
	CreatedAt     time.Time       `json:"created_at"               db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"               db:"updated_at"`
}
