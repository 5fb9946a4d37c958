package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/domain/model"
)

const resultColumns = `id, job_id, user_id, status, input_payload, output_payload, error_message, created_at, updated_at`

// ResultRepo provides persistence for result records.
type ResultRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewResultRepo constructs a ResultRepo. A nil TimeProvider uses the system clock.
func NewResultRepo(db *sql.DB, tp TimeProvider) *ResultRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ResultRepo{DB: db, timeProvider: tp}
}

// GetByID retrieves a result by its id.
func (r *ResultRepo) GetByID(ctx context.Context, id string) (*model.Result, error) {
	if r == nil || r.DB == nil {
		return nil, ErrResultsNotConfigured
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrResultIDRequired
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrResultNotFound
	}
	return r.getOne(ctx, `SELECT `+resultColumns+` FROM results WHERE id = $1`, id)
}

// GetByJobID retrieves the result linked to a job.
func (r *ResultRepo) GetByJobID(ctx context.Context, jobID string) (*model.Result, error) {
	if r == nil || r.DB == nil {
		return nil, ErrResultsNotConfigured
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrJobIDRequired
	}
	return r.getOne(ctx, `SELECT `+resultColumns+` FROM results WHERE job_id = $1`, jobID)
}

func (r *ResultRepo) getOne(ctx context.Context, query string, arg any) (*model.Result, error) {
	var res *model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, arg)
		if err != nil {
			return err
		}
		defer rows.Close()
		result, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Result])
		if err != nil {
			return err
		}
		res = &result
		return nil
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

// UpdateStatus writes a result status only while the row is still in one of the expected statuses.
// A nil Output keeps the stored payload.
func (r *ResultRepo) UpdateStatus(ctx context.Context, params core.UpdateResultParams) (*model.Result, bool, error) {
	if r == nil || r.DB == nil {
		return nil, false, ErrResultsNotConfigured
	}
	if strings.TrimSpace(params.ID) == "" {
		return nil, false, ErrResultIDRequired
	}
	if !params.Status.Valid() {
		return nil, false, fmt.Errorf("invalid result status: %s", params.Status)
	}
	if len(params.Expected) == 0 {
		return nil, false, errors.New("expected result statuses are required")
	}

	expected := make([]string, 0, len(params.Expected))
	for _, s := range params.Expected {
		expected = append(expected, string(s))
	}
	var output []byte
	if params.Output != nil {
		output = []byte(params.Output)
	}

	var (
		res     *model.Result
		applied bool
	)
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE results
			SET status = $2::result_status,
			    output_payload = COALESCE($3::jsonb, output_payload),
			    error_message = CASE WHEN $2::result_status = 'completed' THEN NULL ELSE COALESCE($4, error_message) END,
			    updated_at = $5
			WHERE id = $1
			  AND status::text = ANY($6::text[])
			RETURNING `+resultColumns,
			params.ID, params.Status, output, params.ErrorMessage, r.timeProvider.Now().UTC(), expected,
		)
		if err != nil {
			return err
		}
		result, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Result])
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res, applied = &result, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("update result status: %w", err)
	}
	return res, applied, nil
}

// Stats returns result counts by status plus age summaries.
func (r *ResultRepo) Stats(ctx context.Context) (*model.ResultStats, error) {
	if r == nil || r.DB == nil {
		return nil, ErrResultsNotConfigured
	}
	var (
		s              model.ResultStats
		oldest, newest sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    min(created_at) AS oldest,
    max(created_at) AS newest,
    COALESCE(EXTRACT(EPOCH FROM avg($1::timestamptz - created_at)), 0)::float8 AS avg_age
  FROM results
  `, r.timeProvider.Now().UTC()).Scan(
		&s.Queued,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&oldest,
		&newest,
		&s.Ages.AvgAgeSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get result stats: %w", err)
	}
	s.Ages.Oldest = cloneNullableTime(oldest)
	s.Ages.Newest = cloneNullableTime(newest)
	return &s, nil
}
