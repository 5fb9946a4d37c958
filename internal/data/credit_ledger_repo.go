package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/assessment-jobs/internal/data/pgxutil"
	"github.com/target/assessment-jobs/internal/ports"
)

// CreditLedgerRepo is a Postgres credit ledger for deployments that keep balances in the job database.
// Each (job_id, kind) pair is recorded at most once, so repeating a refund is a no-op.
type CreditLedgerRepo struct {
	DB *sql.DB
}

// NewCreditLedgerRepo constructs a CreditLedgerRepo.
func NewCreditLedgerRepo(db *sql.DB) *CreditLedgerRepo {
	return &CreditLedgerRepo{DB: db}
}

var _ ports.CreditLedger = (*CreditLedgerRepo)(nil)

// Refund credits req.Amount back to the user, once per job.
func (r *CreditLedgerRepo) Refund(ctx context.Context, req ports.RefundRequest) error {
	if r == nil || r.DB == nil {
		return ErrLedgerNotConfigured
	}
	if strings.TrimSpace(req.UserID) == "" {
		return ErrUserIDRequired
	}
	if strings.TrimSpace(req.JobID) == "" {
		return ErrJobIDRequired
	}
	if req.Amount <= 0 {
		return nil
	}
	_, err := r.apply(ctx, ledgerEntry{userID: req.UserID, jobID: &req.JobID, kind: "refund", amount: int64(req.Amount)})
	return err
}

// Grant adds credits outside of any job (operator top-up).
func (r *CreditLedgerRepo) Grant(ctx context.Context, userID string, amount int) error {
	if r == nil || r.DB == nil {
		return ErrLedgerNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	if amount <= 0 {
		return errors.New("grant amount must be positive")
	}
	_, err := r.apply(ctx, ledgerEntry{userID: userID, kind: "grant", amount: int64(amount)})
	return err
}

// Balance returns the user's balance; unknown users have zero.
func (r *CreditLedgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	if r == nil || r.DB == nil {
		return 0, ErrLedgerNotConfigured
	}
	var balance int64
	err := r.DB.QueryRowContext(ctx, `SELECT balance FROM credit_balances WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get credit balance: %w", err)
	}
	return balance, nil
}

type ledgerEntry struct {
	userID string
	jobID  *string
	kind   string
	amount int64
}

// apply records the transaction row and moves the balance in one transaction.
// It reports false when the (job_id, kind) row already existed.
func (r *CreditLedgerRepo) apply(ctx context.Context, e ledgerEntry) (bool, error) {
	var inserted bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var err error
			inserted, err = applyLedgerEntry(ctx, tx, e)
			return err
		},
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// applyLedgerEntry writes e inside the caller's transaction.
func applyLedgerEntry(ctx context.Context, tx *sql.Tx, e ledgerEntry) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, job_id, kind, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, kind) WHERE job_id IS NOT NULL DO NOTHING
	`, e.userID, e.jobID, e.kind, e.amount)
	if err != nil {
		return false, fmt.Errorf("insert credit transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credit transaction rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + EXCLUDED.balance,
		    updated_at = now()
	`, e.userID, e.amount); err != nil {
		return false, fmt.Errorf("update credit balance: %w", err)
	}
	return true, nil
}
