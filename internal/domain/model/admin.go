package model

import "time"

// JobEvent is emitted once per terminal transition for the notification transport.
type JobEvent struct {
	// EventID is deterministic per job and status so transports can dedupe redeliveries.
	EventID      string    `json:"event_id"`
	JobID        string    `json:"job_id"`
	ResultID     *string   `json:"result_id,omitempty"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewJobEvent builds the terminal event for a job snapshot.
func NewJobEvent(j *Job, at time.Time) JobEvent {
	return JobEvent{
		EventID:      j.ID + ":" + string(j.Status),
		JobID:        j.ID,
		ResultID:     j.ResultID,
		UserID:       j.UserID,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		OccurredAt:   at,
	}
}

// StatusAges summarizes the age of a group of rows.
type StatusAges struct {
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
	AvgAgeSeconds float64    `json:"avg_age_seconds"`
}

// JobStats reports job counts by status plus age summaries.
type JobStats struct {
	Queued     int        `json:"queued"`
	Processing int        `json:"processing"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Cancelled  int        `json:"cancelled"`
	Ages       StatusAges `json:"ages"`
}

// Total returns the sum of all status counts.
func (s JobStats) Total() int {
	return s.Queued + s.Processing + s.Completed + s.Failed + s.Cancelled
}

// ResultStats reports result counts by status.
type ResultStats struct {
	Queued     int        `json:"queued"`
	Processing int        `json:"processing"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Ages       StatusAges `json:"ages"`
}

// EngineStats is the dashboard snapshot.
type EngineStats struct {
	Jobs        JobStats    `json:"jobs"`
	Results     ResultStats `json:"results"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// StuckBuckets counts stuck rows observed at sweep time.
type StuckBuckets struct {
	Processing1h  int `json:"stuck_processing_1h"`
	Processing30m int `json:"stuck_processing_30m"`
	Queued24h     int `json:"stuck_queued_24h"`
}

// SweepReport is the observable output of one stuck-job sweep.
type SweepReport struct {
	Buckets                StuckBuckets  `json:"buckets"`
	TransitionedProcessing int           `json:"transitioned_processing"`
	TransitionedQueued     int           `json:"transitioned_queued"`
	TransitionedExhausted  int           `json:"transitioned_exhausted"`
	Refunded               int           `json:"refunded"`
	LockAcquired           bool          `json:"lock_acquired"`
	Duration               time.Duration `json:"duration"`
}

// Transitioned returns the total number of jobs forced to failed by the sweep.
func (r SweepReport) Transitioned() int {
	return r.TransitionedProcessing + r.TransitionedQueued + r.TransitionedExhausted
}

// SyncAction describes what the synchronizer changed.
type SyncAction string

const (
	SyncActionNone          SyncAction = "none"
	SyncActionAdvancedJob   SyncAction = "advanced_job"
	SyncActionAdvancedRes   SyncAction = "advanced_result"
	SyncActionLinkedResult  SyncAction = "linked_result"
	SyncActionOrphanFound   SyncAction = "orphan_found"
	SyncActionConflictFound SyncAction = "conflict_found"
)

// SyncResult reports the outcome of reconciling one job against its result.
type SyncResult struct {
	JobID        string       `json:"job_id"`
	ResultID     *string      `json:"result_id,omitempty"`
	Action       SyncAction   `json:"action"`
	JobStatus    JobStatus    `json:"job_status"`
	ResultStatus ResultStatus `json:"result_status,omitempty"`
	Orphaned     bool         `json:"orphaned,omitempty"`
	Conflict     bool         `json:"conflict,omitempty"`
	Refunded     bool         `json:"refunded,omitempty"`
}

// OrphanedJob is a job whose result reference no longer resolves.
type OrphanedJob struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	ResultID  string    `json:"result_id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// BulkFailure is one id the bulk operator could not cancel.
type BulkFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult is the combined per-id breakdown of a bulk cancel.
type BulkResult struct {
	Successful []string      `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
	Batches    int           `json:"batches"`
}

// BulkCancelRequest is the admin input for bulk cancellation.
type BulkCancelRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason,omitempty"`
}
