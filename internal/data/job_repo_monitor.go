package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/domain/model"
)

// Advisory lock namespace for stuck-job sweeps.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 1000 is reserved for monitor operations; the minor key is the StaleKind.
const advisoryLockMonitorMajor int32 = 1000

const maxSweepBatch = 5000

// Each statement selects its population in $1 (cutoff) and fails up to $3 rows with message $2.
// The outer status predicate repeats the inner one so a row completed mid-sweep is skipped.
var failStaleSQL = map[core.StaleKind]string{
	core.StaleProcessing: `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    completed_at = COALESCE(completed_at, $4),
		    claimed_until = NULL,
		    claim_token = NULL,
		    updated_at = $4
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'processing'
			  AND processing_started_at < $1
			ORDER BY processing_started_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'processing'
		RETURNING ` + jobColumns,
	core.StaleQueued: `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    completed_at = COALESCE(completed_at, $4),
		    claimed_until = NULL,
		    claim_token = NULL,
		    updated_at = $4
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued'
			  AND created_at < $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'queued'
		RETURNING ` + jobColumns,
	core.StaleExhausted: `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    completed_at = COALESCE(completed_at, $4),
		    claimed_until = NULL,
		    claim_token = NULL,
		    updated_at = $4
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued'
			  AND retry_count >= max_retries
			  AND updated_at <= $1
			ORDER BY updated_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'queued'
		RETURNING ` + jobColumns,
}

// StuckBuckets counts stuck rows in the fixed alerting buckets as of now.
func (r *JobRepo) StuckBuckets(ctx context.Context, now time.Time) (model.StuckBuckets, error) {
	var b model.StuckBuckets
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'processing' AND processing_started_at < $1::timestamptz - interval '1 hour'),
			count(*) FILTER (WHERE status = 'processing' AND processing_started_at < $1::timestamptz - interval '30 minutes'),
			count(*) FILTER (WHERE status = 'queued' AND created_at < $1::timestamptz - interval '24 hours')
		FROM jobs
		WHERE status IN ('queued', 'processing')
	`, now.UTC()).Scan(&b.Processing1h, &b.Processing30m, &b.Queued24h)
	if err != nil {
		return model.StuckBuckets{}, fmt.Errorf("count stuck jobs: %w", err)
	}
	return b, nil
}

// FailStaleJobs moves one batch of stuck jobs to failed and returns them.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent monitor instances from conflicting.
func (r *JobRepo) FailStaleJobs(ctx context.Context, params core.FailStaleParams) (core.FailStaleResult, error) {
	query, ok := failStaleSQL[params.Kind]
	if !ok {
		return core.FailStaleResult{}, fmt.Errorf("unknown stale kind %d", params.Kind)
	}
	if params.BatchSize <= 0 {
		return core.FailStaleResult{}, errors.New("batch size must be greater than zero")
	}
	batch := min(params.BatchSize, maxSweepBatch)
	msg := params.Message
	if msg == "" {
		msg = model.StuckJobTimeoutMessage
	}

	var out core.FailStaleResult
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := pgxutil.TryAdvisoryXactLock(ctx, tx, advisoryLockMonitorMajor, int32(params.Kind))
			if err != nil {
				return err
			}
			if !locked {
				return nil
			}
			out.Locked = true

			rows, err := tx.QueryContext(ctx, query, params.Cutoff.UTC(), msg, batch, r.now())
			if err != nil {
				return fmt.Errorf("fail stale %s jobs: %w", params.Kind, err)
			}
			defer rows.Close()

			for rows.Next() {
				job, scanErr := scanJobFromRow(rows)
				if scanErr != nil {
					return fmt.Errorf("scan stale job: %w", scanErr)
				}
				out.Jobs = append(out.Jobs, job)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return core.FailStaleResult{}, err
	}
	return out, nil
}
