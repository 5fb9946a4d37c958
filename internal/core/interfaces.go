package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CreateJobParams carries a validated submission plus the resolved retry budget.
type CreateJobParams struct {
	Request    *model.CreateJobRequest
	MaxRetries int
}

// TransitionParams groups a conditional status write: the row moves to To only while it is still in From.
type TransitionParams struct {
	JobID        string
	From         model.JobStatus
	To           model.JobStatus
	ErrorMessage *string
	ResultID     *string
	// Output is stored on the linked result in the same transaction as the completed edge.
	Output       json.RawMessage
	// RetryBackoff is the linear backoff base applied on the processing -> queued retry edge.
	RetryBackoff time.Duration
}

// ReconcileParams advances a lagging job to a status already reached by its result.
// Unlike TransitionParams it may skip intermediate states, but never moves backwards.
type ReconcileParams struct {
	JobID        string
	From         model.JobStatus
	To           model.JobStatus
	ErrorMessage *string
}

// StaleKind selects which stuck-job population a sweep step targets.
type StaleKind int

const (
	// StaleProcessing selects processing jobs whose processing_started_at is before the cutoff.
	StaleProcessing StaleKind = iota + 1
	// StaleQueued selects queued jobs whose created_at is before the cutoff.
	StaleQueued
	// StaleExhausted selects queued jobs that already used their whole retry budget.
	StaleExhausted
)

func (k StaleKind) String() string {
	switch k {
	case StaleProcessing:
		return "processing"
	case StaleQueued:
		return "queued"
	case StaleExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// FailStaleParams groups parameters for FailStaleJobs.
type FailStaleParams struct {
	Kind      StaleKind
	Cutoff    time.Time
	BatchSize int
	Message   string
}

// FailStaleResult reports one batch of a stuck-job sweep.
type FailStaleResult struct {
	// Jobs holds the rows this call moved to failed.
	Jobs []*model.Job
	// Locked is false when another sweeper held the advisory lock.
	Locked bool
}

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, params CreateJobParams) (*model.Job, *model.Result, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	ClaimNext(ctx context.Context, n int, types ...model.JobType) ([]*model.Job, error)
	WaitForNotification(ctx context.Context) (model.JobType, error)
	Transition(ctx context.Context, params TransitionParams) (*model.Job, bool, error)
	Reconcile(ctx context.Context, params ReconcileParams) (*model.Job, bool, error)
	LinkResult(ctx context.Context, jobID, resultID string) (bool, error)
	CancelBatch(ctx context.Context, ids []string, reason string) ([]*model.Job, error)
	StatusesByID(ctx context.Context, ids []string) (map[string]model.JobStatus, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// RefundMarker guards the once-only credit restoration of a job.
type RefundMarker interface {
	// MarkRefunded stamps refunded_at when the job is refundable and not yet refunded.
	MarkRefunded(ctx context.Context, jobID string) (*model.Job, bool, error)
	// ClearRefundMarker undoes MarkRefunded after a ledger failure.
	ClearRefundMarker(ctx context.Context, jobID string) error
}

// AtomicRefunder records the refund marker and the ledger credit in one transaction.
// It is available when the ledger lives in the job database.
type AtomicRefunder interface {
	RefundWithCredit(ctx context.Context, jobID string) (*model.Job, bool, error)
}

// MonitorRepository defines the interface for stuck-job detection.
type MonitorRepository interface {
	StuckBuckets(ctx context.Context, now time.Time) (model.StuckBuckets, error)
	FailStaleJobs(ctx context.Context, params FailStaleParams) (FailStaleResult, error)
}

// AuditRepository defines the read-only admin queries over jobs.
type AuditRepository interface {
	ListOrphans(ctx context.Context, limit int) ([]model.OrphanedJob, error)
	ListDeadLetter(ctx context.Context, opts model.DeadLetterOptions) ([]*model.Job, error)
}

// UpdateResultParams groups a conditional result write.
type UpdateResultParams struct {
	ID           string
	Expected     []model.ResultStatus
	Status       model.ResultStatus
	Output       json.RawMessage
	ErrorMessage *string
}

// ResultRepository defines the interface for result data operations.
type ResultRepository interface {
	GetByID(ctx context.Context, id string) (*model.Result, error)
	GetByJobID(ctx context.Context, jobID string) (*model.Result, error)
	UpdateStatus(ctx context.Context, params UpdateResultParams) (*model.Result, bool, error)
	Stats(ctx context.Context) (*model.ResultStats, error)
}

// StatsCache holds the most recent dashboard snapshot so repeated admin reads skip the aggregate queries.
type StatsCache interface {
	// GetStats returns the cached snapshot, or nil when none is cached.
	GetStats(ctx context.Context) (*model.EngineStats, error)
	SetStats(ctx context.Context, stats *model.EngineStats, ttl time.Duration) error
	// TryLockRefresh reports whether the caller won the right to rebuild the snapshot.
	TryLockRefresh(ctx context.Context, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context) error
}
