package testutil

import (
	"context"
	"database/sql"
	"time"
)

// TestTime is the fixed instant service and repository tests pin their clocks to.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// JobState is the lifecycle slice of a jobs row as stored, read without going through the repository.
type JobState struct {
	ID           string
	Type         string
	Status       string
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	RefundedAt   *time.Time
	CompletedAt  *time.Time
}

// JobStates returns every jobs row keyed by id.
func JobStates(t TestingTB, db *sql.DB) map[string]JobState {
	t.Helper()

	rows, err := db.QueryContext(context.Background(), `
		SELECT id::text, type, status::text, retry_count, max_retries,
		       COALESCE(error_message, ''), refunded_at, completed_at
		FROM jobs`)
	if err != nil {
		t.Fatalf("query job states: %v", err)
	}
	defer closeAndLog(t, "job state rows", rows)

	out := make(map[string]JobState)
	for rows.Next() {
		var (
			s         JobState
			refunded  sql.NullTime
			completed sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Type, &s.Status, &s.RetryCount, &s.MaxRetries,
			&s.ErrorMessage, &refunded, &completed); err != nil {
			t.Fatalf("scan job state: %v", err)
		}
		if refunded.Valid {
			s.RefundedAt = &refunded.Time
		}
		if completed.Valid {
			s.CompletedAt = &completed.Time
		}
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate job states: %v", err)
	}
	return out
}

// BackdateJob moves a job's created_at (and its claim eligibility) to createdAt.
func BackdateJob(t TestingTB, db *sql.DB, jobID string, createdAt time.Time) {
	t.Helper()

	res, err := db.ExecContext(context.Background(),
		`UPDATE jobs SET created_at = $2, next_eligible_at = LEAST(next_eligible_at, $2) WHERE id = $1`,
		jobID, createdAt)
	if err != nil {
		t.Fatalf("backdate job %s: %v", jobID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("backdate job %s: %d rows affected", jobID, n)
	}
}
