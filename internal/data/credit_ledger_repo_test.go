package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/internal/ports"
	"github.com/target/assessment-jobs/internal/testutil"
)

func TestCreditLedgerRepo_RefundOncePerJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ledger := NewCreditLedgerRepo(db)
		jobs, _, _ := newTestRepos(db)
		ctx := context.Background()
		job, _ := mustCreate(t, jobs, testutil.AssessmentJobRequest())

		require.NoError(t, ledger.Grant(ctx, job.UserID, 100))

		req := ports.RefundRequest{UserID: job.UserID, JobID: job.ID, Amount: job.CreditCost}
		require.NoError(t, ledger.Refund(ctx, req))
		require.NoError(t, ledger.Refund(ctx, req))

		balance, err := ledger.Balance(ctx, job.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(100+job.CreditCost), balance)

		var rows int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT count(*) FROM credit_transactions WHERE job_id = $1 AND kind = 'refund'`, job.ID).Scan(&rows))
		assert.Equal(t, 1, rows)
	})
}

func TestCreditLedgerRepo_Balance_UnknownUser(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		balance, err := NewCreditLedgerRepo(db).Balance(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Zero(t, balance)
	})
}

func TestCreditLedgerRepo_Validation(t *testing.T) {
	ctx := context.Background()

	var nilRepo *CreditLedgerRepo
	require.ErrorIs(t, nilRepo.Refund(ctx, ports.RefundRequest{}), ErrLedgerNotConfigured)

	repo := NewCreditLedgerRepo(&sql.DB{})
	require.ErrorIs(t, repo.Refund(ctx, ports.RefundRequest{JobID: "j"}), ErrUserIDRequired)
	require.ErrorIs(t, repo.Refund(ctx, ports.RefundRequest{UserID: "u"}), ErrJobIDRequired)
	require.NoError(t, repo.Refund(ctx, ports.RefundRequest{UserID: "u", JobID: "j", Amount: 0}), "zero refunds are skipped")
	require.Error(t, repo.Grant(ctx, "u", 0))
}
