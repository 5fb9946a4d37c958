package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/domain/model"
)

// ListOrphans returns jobs whose result_id no longer resolves to a results row.
func (r *JobRepo) ListOrphans(ctx context.Context, limit int) ([]model.OrphanedJob, error) {
	var out []model.OrphanedJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT j.id::text AS job_id, j.user_id, j.result_id::text AS result_id, j.status::text AS status, j.created_at
			FROM jobs j
			LEFT JOIN results res ON res.id = j.result_id
			WHERE j.result_id IS NOT NULL
			  AND res.id IS NULL
			ORDER BY j.created_at
			LIMIT $1
		`, clampLimit(limit))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OrphanedJob, error) {
			var o model.OrphanedJob
			var status string
			scanErr := row.Scan(&o.JobID, &o.UserID, &o.ResultID, &status, &o.CreatedAt)
			o.Status = model.JobStatus(status)
			o.CreatedAt = o.CreatedAt.UTC()
			return o, scanErr
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orphaned jobs: %w", err)
	}
	if out == nil {
		out = []model.OrphanedJob{}
	}
	return out, nil
}

// ListDeadLetter returns failed jobs that used their whole retry budget, oldest failure first.
func (r *JobRepo) ListDeadLetter(ctx context.Context, opts model.DeadLetterOptions) ([]*model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'failed'
		  AND retry_count >= max_retries`
	args := []any{clampLimit(opts.Limit)}
	if opts.UserID != nil {
		query += ` AND user_id = $2`
		args = append(args, *opts.UserID)
	}
	query += ` ORDER BY completed_at ASC NULLS LAST LIMIT $1`

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs, err = collectJobsFromRows(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list dead-letter jobs: %w", err)
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return jobs, nil
}
