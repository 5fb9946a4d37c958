package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/domain/model"
)

// insertJobParams groups parameters for inserting a job and its result within a transaction.
type insertJobParams struct {
	JobID      string
	ResultID   string
	Req        *model.CreateJobRequest
	MaxRetries int
}

// Create inserts a queued job together with its queued result in one transaction
// and notifies listening workers.
func (r *JobRepo) Create(ctx context.Context, params core.CreateJobParams) (*model.Job, *model.Result, error) {
	req := params.Request
	if req == nil {
		return nil, nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, nil, validateErr
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	p := &insertJobParams{
		JobID:      uuid.NewString(),
		ResultID:   uuid.NewString(),
		Req:        req,
		MaxRetries: maxRetries,
	}

	var (
		job    *model.Job
		result *model.Result
	)
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			result, insertErr = r.insertResultInTx(ctx, tx, p)
			if insertErr != nil {
				return insertErr
			}
			job, insertErr = r.insertJobInTx(ctx, tx, p)
			return insertErr
		},
	}); txErr != nil {
		return nil, nil, txErr
	}

	return job, result, nil
}

func (r *JobRepo) insertResultInTx(ctx context.Context, tx pgx.Tx, p *insertJobParams) (*model.Result, error) {
	now := r.now()
	rows, err := tx.Query(ctx, `
		INSERT INTO results (id, job_id, user_id, status, input_payload, created_at, updated_at)
		VALUES ($1, $2, $3, 'queued', $4, $5, $5)
		RETURNING `+resultColumns,
		p.ResultID, p.JobID, p.Req.UserID, []byte(p.Req.Payload), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}
	res, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Result])
	if err != nil {
		return nil, fmt.Errorf("collect result: %w", err)
	}
	return &res, nil
}

// insertJobInTx inserts a job within a pgx.Tx and returns the created job.
func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, p *insertJobParams) (*model.Job, error) {
	now := r.now()
	rows, err := tx.Query(ctx, `
		INSERT INTO jobs (
			id, user_id, type, status, priority, payload, max_retries, credit_cost,
			result_id, next_eligible_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, 'queued', $4, $5, $6, $7, $8, $9, $9, $9)
		RETURNING `+jobColumns,
		p.JobID,
		p.Req.UserID,
		p.Req.Type,
		p.Req.Priority,
		[]byte(p.Req.Payload),
		p.MaxRetries,
		p.Req.CreditCost,
		p.ResultID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job, collectErr := collectJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannelName, string(job.Type)); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}

	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrJobIDRequired
	}
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrJobNotFound
	}

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, filtered by the optional fields in opts.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}

	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.Status != nil {
		add("status = $%d", *opts.Status)
	}
	if opts.UserID != nil {
		add("user_id = $%d", *opts.UserID)
	}
	if opts.Type != nil {
		add("type = $%d", *opts.Type)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(opts.Limit), max(opts.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs, err = collectJobsFromRows(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// WaitForNotification waits for a job_added notification and returns its payload, the type of the new job.
func (r *JobRepo) WaitForNotification(ctx context.Context) (model.JobType, error) {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close listen connection", "error", cerr)
		}
	}()

	quoted := pgx.Identifier{jobAddedChannelName}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return "", fmt.Errorf("listen %s: %w", jobAddedChannelName, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			r.logger.Debug("unlisten failed", "channel", jobAddedChannelName, "error", execErr)
		}
	}()

	var jobType model.JobType
	err = conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		n, notifyErr := sc.Conn().WaitForNotification(ctx)
		if notifyErr != nil {
			return notifyErr
		}
		jobType = model.JobType(n.Payload)
		return nil
	})
	return jobType, err
}

// LinkResult sets result_id when the job has none. An existing link is never replaced.
func (r *JobRepo) LinkResult(ctx context.Context, jobID, resultID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET result_id = $2,
		    updated_at = $3
		WHERE id = $1 AND result_id IS NULL
	`, jobID, resultID, r.now())
	if err != nil {
		return false, fmt.Errorf("link result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link result rows affected: %w", err)
	}
	return n > 0, nil
}

// StatusesByID returns the current status of each id that exists.
func (r *JobRepo) StatusesByID(ctx context.Context, ids []string) (map[string]model.JobStatus, error) {
	out := make(map[string]model.JobStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `SELECT id::text, status::text FROM jobs WHERE id = ANY($1::uuid[])`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, status string
			if scanErr := rows.Scan(&id, &status); scanErr != nil {
				return scanErr
			}
			out[id] = model.JobStatus(status)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("job statuses by id: %w", err)
	}
	return out, nil
}

// Stats returns job counts by status plus age summaries.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var (
		s              model.JobStats
		oldest, newest sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'cancelled')  AS cancelled,
    min(created_at) AS oldest,
    max(created_at) AS newest,
    COALESCE(EXTRACT(EPOCH FROM avg($1::timestamptz - created_at)), 0)::float8 AS avg_age
  FROM jobs
  `, r.now()).Scan(
		&s.Queued,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
		&oldest,
		&newest,
		&s.Ages.AvgAgeSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	s.Ages.Oldest = cloneNullableTime(oldest)
	s.Ages.Newest = cloneNullableTime(newest)
	return &s, nil
}
