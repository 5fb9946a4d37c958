package data

import (
	"errors"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// Shared sentinel errors for data-layer repositories.
var (
	// Result repository sentinels.
	ErrResultsNotConfigured = errors.New("results repository not configured")
	ErrResultNotFound       = model.ErrResultNotFound
	ErrResultIDRequired     = errors.New("result_id is required")

	// Credit ledger sentinels.
	ErrLedgerNotConfigured = errors.New("credit ledger not configured")
	ErrUserIDRequired      = errors.New("user_id is required")
)
