package service

import (
	"context"
	"errors"
)

var (
	// ErrRepoRequired is returned by constructors when the job repository is missing.
	ErrRepoRequired = errors.New("job repository is required")
	// ErrResultsRequired is returned by constructors when the result repository is missing.
	ErrResultsRequired = errors.New("result repository is required")
	// ErrLedgerRequired is returned when the refund path has no credit ledger.
	ErrLedgerRequired = errors.New("credit ledger is required")
	// ErrInvalidRequest wraps caller input the service rejects before touching storage.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRetryBudgetExhausted is returned when an explicit re-queue is requested with no budget left.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
