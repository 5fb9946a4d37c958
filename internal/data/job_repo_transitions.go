package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/domain/model"
)

// Every statement below is conditional on the expected current status ($2).
// Zero affected rows means another writer moved the job first.
const (
	startJobSQL = `
		UPDATE jobs
		SET status = 'processing',
		    processing_started_at = $3,
		    claimed_until = NULL,
		    claim_token = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns

	completeJobSQL = `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = COALESCE(completed_at, $3),
		    result_id = COALESCE(result_id, $4),
		    error_message = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns

	// completeResultSQL writes the output onto the linked result inside the completion transaction.
	// A result already past processing is left alone for the synchronizer to report.
	completeResultSQL = `
		UPDATE results
		SET status = 'completed',
		    output_payload = COALESCE($2::jsonb, output_payload),
		    error_message = NULL,
		    updated_at = $3
		WHERE id = $1
		  AND status IN ('queued', 'processing')`

	terminateJobSQL = `
		UPDATE jobs
		SET status = $4::job_status,
		    completed_at = COALESCE(completed_at, $3),
		    error_message = $5,
		    claimed_until = NULL,
		    claim_token = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns

	// requeueJobSQL applies linear backoff: the new retry_count times $4 seconds.
	requeueJobSQL = `
		UPDATE jobs
		SET status = 'queued',
		    retry_count = retry_count + 1,
		    next_eligible_at = $3::timestamptz + make_interval(secs => (retry_count + 1) * $4::float8),
		    processing_started_at = NULL,
		    claimed_until = NULL,
		    claim_token = NULL,
		    error_message = $5,
		    updated_at = $3
		WHERE id = $1 AND status = $2 AND retry_count < max_retries
		RETURNING ` + jobColumns

	reconcileJobSQL = `
		UPDATE jobs
		SET status = $3::job_status,
		    processing_started_at = COALESCE(processing_started_at, $4),
		    completed_at = CASE
		      WHEN $3::job_status IN ('completed', 'failed', 'cancelled') THEN COALESCE(completed_at, $4)
		      ELSE completed_at
		    END,
		    error_message = CASE
		      WHEN $3::job_status = 'completed' THEN NULL
		      ELSE COALESCE($5, error_message)
		    END,
		    claimed_until = NULL,
		    claim_token = NULL,
		    updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns
)

// Transition performs one conditional edge of the job state machine.
// Edge legality is the caller's responsibility; this method only guards the expected status.
func (r *JobRepo) Transition(ctx context.Context, p core.TransitionParams) (*model.Job, bool, error) {
	if strings.TrimSpace(p.JobID) == "" {
		return nil, false, ErrJobIDRequired
	}

	now := r.now()
	var (
		query string
		args  []any
	)
	switch p.To {
	case model.JobStatusProcessing:
		query, args = startJobSQL, []any{p.JobID, p.From, now}
	case model.JobStatusCompleted:
		return r.complete(ctx, p, now)
	case model.JobStatusFailed, model.JobStatusCancelled:
		query, args = terminateJobSQL, []any{p.JobID, p.From, now, p.To, p.ErrorMessage}
	case model.JobStatusQueued:
		query, args = requeueJobSQL, []any{p.JobID, p.From, now, p.RetryBackoff.Seconds(), p.ErrorMessage}
	default:
		return nil, false, fmt.Errorf("unsupported target status %q", p.To)
	}

	return r.conditionalUpdate(ctx, query, args...)
}

// complete moves the job to completed and stores its output on the linked result in one transaction.
// If either write fails neither is committed, so the worker may report the completion again.
func (r *JobRepo) complete(ctx context.Context, p core.TransitionParams, now time.Time) (*model.Job, bool, error) {
	var (
		job     *model.Job
		applied bool
	)
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			updated, err := scanJobFromRow(tx.QueryRowContext(ctx, completeJobSQL, p.JobID, p.From, now, p.ResultID))
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("update job status: %w", err)
			}
			job, applied = updated, true
			if updated.ResultID == nil {
				return nil
			}

			var output []byte
			if p.Output != nil {
				output = []byte(p.Output)
			}
			res, err := tx.ExecContext(ctx, completeResultSQL, *updated.ResultID, output, now)
			if err != nil {
				return fmt.Errorf("write result output: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				r.logger.WarnContext(ctx, "result already terminal at completion",
					"job_id", updated.ID,
					"result_id", *updated.ResultID,
				)
			}
			return nil
		},
	})
	if err != nil {
		return nil, false, err
	}
	return job, applied, nil
}

// Reconcile advances a job towards a status its result already reached.
func (r *JobRepo) Reconcile(ctx context.Context, p core.ReconcileParams) (*model.Job, bool, error) {
	if strings.TrimSpace(p.JobID) == "" {
		return nil, false, ErrJobIDRequired
	}
	if model.StatusRank(p.To) <= model.StatusRank(p.From) {
		return nil, false, fmt.Errorf("reconcile %s -> %s: %w", p.From, p.To, model.ErrIllegalTransition)
	}
	return r.conditionalUpdate(ctx, reconcileJobSQL, p.JobID, p.From, p.To, r.now(), p.ErrorMessage)
}

func (r *JobRepo) conditionalUpdate(ctx context.Context, query string, args ...any) (*model.Job, bool, error) {
	job, err := scanJobFromRow(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update job status: %w", err)
	}
	return job, true, nil
}

// CancelBatch cancels every queued or processing job in ids and returns the rows it changed.
// Ids that were not cancelled are left for the caller to classify.
func (r *JobRepo) CancelBatch(ctx context.Context, ids []string, reason string) ([]*model.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := r.now()

	var jobs []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				UPDATE jobs
				SET status = 'cancelled',
				    completed_at = COALESCE(completed_at, $2),
				    error_message = $3,
				    claimed_until = NULL,
				    claim_token = NULL,
				    updated_at = $2
				WHERE id = ANY($1::uuid[])
				  AND status IN ('queued', 'processing')
				RETURNING `+jobColumns,
				ids, now, reason,
			)
			if err != nil {
				return err
			}
			defer rows.Close()
			jobs, err = collectJobsFromRows(rows)
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cancel batch: %w", err)
	}
	return jobs, nil
}

const markRefundedSQL = `
		UPDATE jobs
		SET refunded_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND refunded_at IS NULL
		  AND status IN ('failed', 'cancelled')
		  AND credit_cost > 0
		RETURNING ` + jobColumns

// MarkRefunded stamps refunded_at on a failed or cancelled job that has not been refunded yet.
func (r *JobRepo) MarkRefunded(ctx context.Context, jobID string) (*model.Job, bool, error) {
	return r.conditionalUpdate(ctx, markRefundedSQL, jobID, r.now())
}

// RefundWithCredit stamps refunded_at and credits the owner in the Postgres ledger in one transaction.
// It reports false when the job is not refundable or was already refunded.
func (r *JobRepo) RefundWithCredit(ctx context.Context, jobID string) (*model.Job, bool, error) {
	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			marked, err := scanJobFromRow(tx.QueryRowContext(ctx, markRefundedSQL, jobID, r.now()))
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("mark job refunded: %w", err)
			}
			if _, err := applyLedgerEntry(ctx, tx, ledgerEntry{
				userID: marked.UserID,
				jobID:  &marked.ID,
				kind:   "refund",
				amount: int64(marked.CreditCost),
			}); err != nil {
				return err
			}
			job = marked
			return nil
		},
	})
	if err != nil {
		return nil, false, err
	}
	return job, job != nil, nil
}

// ClearRefundMarker removes refunded_at so a failed ledger call can be retried.
func (r *JobRepo) ClearRefundMarker(ctx context.Context, jobID string) error {
	if _, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET refunded_at = NULL,
		    updated_at = $2
		WHERE id = $1
	`, jobID, r.now()); err != nil {
		return fmt.Errorf("clear refund marker: %w", err)
	}
	return nil
}
