package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/assessment-jobs/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = model.ErrJobNotFound
	// ErrJobIDRequired is returned when a job id argument is empty.
	ErrJobIDRequired = errors.New("job_id is required")
)

const (
	defaultClaimLease   = 30 * time.Second
	defaultMaxRetries   = 3
	maxClaimBatch       = 100
	defaultListLimit    = 50
	maxListLimit        = 1000
	jobAddedChannelName = "job_added"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// ClaimLease is how long a claimed-but-not-started job stays hidden from other claimers.
	ClaimLease   time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "job_repo")
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger,
	}
}

func (r *JobRepo) claimLease() time.Duration {
	if r.cfg.ClaimLease > 0 {
		return r.cfg.ClaimLease
	}
	return defaultClaimLease
}

func (r *JobRepo) now() time.Time {
	return r.timeProvider.Now().UTC()
}

const jobColumns = `
  id,
  user_id,
  type,
  status,
  priority,
  payload,
  retry_count,
  max_retries,
  credit_cost,
  result_id,
  error_message,
  next_eligible_at,
  claimed_until,
  claim_token,
  refunded_at,
  processing_started_at,
  completed_at,
  created_at,
  updated_at
`

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

// collectJobsFromRows drains rows into jobs.
func collectJobsFromRows(rows pgx.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload                                          []byte
	resultID, errorMessage, claimToken               sql.NullString
	claimedUntil, refundedAt, startedAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.UserID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&d.payload,
		&job.RetryCount,
		&job.MaxRetries,
		&job.CreditCost,
		&d.resultID,
		&d.errorMessage,
		&job.NextEligibleAt,
		&d.claimedUntil,
		&d.claimToken,
		&d.refundedAt,
		&d.startedAt,
		&d.completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.ResultID = cloneNullableString(d.resultID)
	job.ErrorMessage = cloneNullableString(d.errorMessage)
	job.ClaimToken = cloneNullableString(d.claimToken)
	job.ClaimedUntil = cloneNullableTime(d.claimedUntil)
	job.RefundedAt = cloneNullableTime(d.refundedAt)
	job.ProcessingStartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.NextEligibleAt = job.NextEligibleAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
