package data

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/domain/model"
)

// claimNextSQL locks up to $5 eligible rows, skipping rows other claimers hold, and stamps a claim lease.
// An empty $6 matches every type. Status is left untouched: the job stays queued until its worker calls Start.
const claimNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'queued'
      AND retry_count < max_retries
      AND next_eligible_at <= $1
      AND (claimed_until IS NULL OR claimed_until <= $1)
      AND (cardinality($6::text[]) = 0 OR type::text = ANY($6::text[]))
    ORDER BY priority DESC, created_at ASC
    LIMIT $5
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    claimed_until = $2,
    claim_token = $3,
    updated_at = $4
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns

// prefixedJobColumns qualifies jobColumns for the UPDATE ... FROM form.
const prefixedJobColumns = `j.id, j.user_id, j.type, j.status, j.priority, j.payload, j.retry_count,
  j.max_retries, j.credit_cost, j.result_id, j.error_message, j.next_eligible_at, j.claimed_until,
  j.claim_token, j.refunded_at, j.processing_started_at, j.completed_at, j.created_at, j.updated_at`

// ClaimNext claims up to n queued jobs ordered by priority DESC, created_at ASC.
// When types is non-empty only jobs of those types are claimed.
// It returns an empty slice when nothing is eligible.
func (r *JobRepo) ClaimNext(ctx context.Context, n int, types ...model.JobType) ([]*model.Job, error) {
	if n <= 0 {
		n = 1
	}
	if n > maxClaimBatch {
		n = maxClaimBatch
	}

	// Non-nil so pgx sends '{}' rather than NULL.
	typeNames := make([]string, 0, len(types))
	for _, t := range types {
		typeNames = append(typeNames, string(t))
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.now()
			leaseUntil := currentTime.Add(r.claimLease())

			rows, qerr := tx.Query(
				ctx,
				claimNextSQL,
				currentTime,
				leaseUntil,
				uuid.NewString(),
				currentTime,
				n,
				typeNames,
			)
			if qerr != nil {
				return fmt.Errorf("claim jobs: %w", qerr)
			}
			defer rows.Close()

			claimed, cerr := collectJobsFromRows(rows)
			if cerr != nil {
				return fmt.Errorf("claim jobs: %w", cerr)
			}
			jobs = claimed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not preserve the CTE ordering.
	slices.SortStableFunc(jobs, func(a, b *model.Job) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	if jobs == nil {
		jobs = []*model.Job{}
	}
	return jobs, nil
}
