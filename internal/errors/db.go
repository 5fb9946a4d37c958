package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// constraintMessages turns the schema's named CHECK and UNIQUE constraints into caller-facing messages.
var constraintMessages = map[string]struct {
	field   string
	message string
}{
	"jobs_retry_budget_chk":            {"max_retries", "Retry budget must be at least 1 and not exceeded."},
	"jobs_credit_cost_chk":             {"credit_cost", "Credit cost must not be negative."},
	"jobs_processing_started_chk":      {"processing_started_at", "Processing jobs must record when processing started."},
	"jobs_completed_at_chk":            {"completed_at", "Terminal jobs must record a completion time after creation."},
	"results_job_id_key":               {"job_id", "This job already has a result."},
	"credit_transactions_job_kind_key": {"job_id", "This credit movement was already recorded for the job."},
}

// MapDBError maps database errors to AppError instances.
// It handles:
// - pgx.ErrNoRows → NotFound
// - unique and check violations on known constraints → Conflict / Validation with a field
// - serialization failures and deadlocks → retryable Conflict
// - connection exceptions → retryable Unavailable
// - context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err, Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		return constraintError(pgErr, ErrCodeConflict, "This value already exists.")
	case pgErr.Code == pgerrcode.CheckViolation:
		return constraintError(pgErr, ErrCodeValidation, "Invalid data. Please check your input.")
	case pgErr.Code == pgerrcode.NotNullViolation:
		return &AppError{Code: ErrCodeValidation, Message: "This field is required.", Field: pgErr.ColumnName, Cause: pgErr}
	case pgErr.Code == pgerrcode.InvalidTextRepresentation:
		return &AppError{Code: ErrCodeValidation, Message: "Malformed identifier or value.", Cause: pgErr}
	case pgErr.Code == pgerrcode.SerializationFailure, pgErr.Code == pgerrcode.DeadlockDetected,
		pgErr.Code == pgerrcode.LockNotAvailable:
		return &AppError{Code: ErrCodeConflict, Message: "Concurrent update. Please retry.", Cause: pgErr, Retryable: true}
	case pgerrcode.IsConnectionException(pgErr.Code), pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow:
		return &AppError{Code: ErrCodeUnavailable, Message: "Database unavailable. Please retry.", Cause: pgErr, Retryable: true}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

func constraintError(pgErr *pgconn.PgError, code ErrorCode, fallback string) *AppError {
	if known, ok := constraintMessages[pgErr.ConstraintName]; ok {
		return &AppError{Code: code, Message: known.message, Field: known.field, Cause: pgErr}
	}
	return &AppError{Code: code, Message: fallback, Field: pgErr.ColumnName, Cause: pgErr}
}
