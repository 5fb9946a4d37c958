package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/testutil"
)

func startJob(t *testing.T, repo *JobRepo, id string) *model.Job {
	t.Helper()
	job, ok, err := repo.Transition(context.Background(), core.TransitionParams{
		JobID: id, From: model.JobStatusQueued, To: model.JobStatusProcessing,
	})
	require.NoError(t, err)
	require.True(t, ok)
	return job
}

func TestJobRepo_Transition_Lifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()
		created, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		claimed, err := repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		clock.AddTime(2 * time.Second)
		started := startJob(t, repo, created.ID)
		assert.Equal(t, model.JobStatusProcessing, started.Status)
		require.NotNil(t, started.ProcessingStartedAt)
		assert.True(t, started.ProcessingStartedAt.Equal(clock.Now()))
		assert.Nil(t, started.ClaimedUntil, "start clears the claim lease")
		assert.Nil(t, started.ClaimToken)

		clock.AddTime(time.Minute)
		done, ok, err := repo.Transition(ctx, core.TransitionParams{
			JobID: created.ID, From: model.JobStatusProcessing, To: model.JobStatusCompleted,
		})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
		assert.True(t, done.CompletedAt.Equal(clock.Now()))
		assert.False(t, done.CompletedAt.Before(done.CreatedAt))
		assert.Equal(t, created.ResultID, done.ResultID, "result link is immutable")
		assert.Nil(t, done.ErrorMessage)
	})
}

func TestJobRepo_Transition_StaleExpectationIsNoop(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()
		created, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		startJob(t, repo, created.ID)

		// A second starter racing on the same row matches zero rows.
		job, ok, err := repo.Transition(ctx, core.TransitionParams{
			JobID: created.ID, From: model.JobStatusQueued, To: model.JobStatusProcessing,
		})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, job)

		msg := "boom"
		_, ok, err = repo.Transition(ctx, core.TransitionParams{
			JobID: created.ID, From: model.JobStatusProcessing, To: model.JobStatusFailed, ErrorMessage: &msg,
		})
		require.NoError(t, err)
		require.True(t, ok)

		// Terminal rows never move again.
		_, ok, err = repo.Transition(ctx, core.TransitionParams{
			JobID: created.ID, From: model.JobStatusProcessing, To: model.JobStatusCompleted,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "boom", *got.ErrorMessage)
	})
}

func TestJobRepo_Transition_UnknownJobIsNoop(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		_, ok, err := repo.Transition(context.Background(), core.TransitionParams{
			JobID: "550e8400-e29b-41d4-a716-446655440000", From: model.JobStatusQueued, To: model.JobStatusCancelled,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = repo.Transition(context.Background(), core.TransitionParams{From: model.JobStatusQueued, To: model.JobStatusCancelled})
		require.ErrorIs(t, err, ErrJobIDRequired)
	})
}

// Retry budget of two: two retryable failures re-queue with growing backoff and the slot after that is not claimable.
func TestJobRepo_Transition_RetryBackoff(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()
		base := 5 * time.Second
		created, _ := mustCreate(t, repo, testutil.RetryableJobRequest(2))

		retry := func() *model.Job {
			t.Helper()
			msg := "transient"
			job, ok, err := repo.Transition(ctx, core.TransitionParams{
				JobID: created.ID, From: model.JobStatusProcessing, To: model.JobStatusQueued,
				ErrorMessage: &msg, RetryBackoff: base,
			})
			require.NoError(t, err)
			require.True(t, ok)
			return job
		}

		startJob(t, repo, created.ID)
		first := retry()
		assert.Equal(t, model.JobStatusQueued, first.Status)
		assert.Equal(t, 1, first.RetryCount)
		assert.Nil(t, first.ProcessingStartedAt)
		assert.True(t, first.NextEligibleAt.Equal(clock.Now().Add(base)))

		claimed, err := repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, claimed, "not eligible before backoff elapses")

		clock.AddTime(base + time.Second)
		claimed, err = repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		startJob(t, repo, created.ID)
		second := retry()
		assert.Equal(t, 2, second.RetryCount)
		assert.True(t, second.NextEligibleAt.Equal(clock.Now().Add(2*base)), "backoff grows linearly")

		clock.AddTime(3 * base)
		claimed, err = repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, claimed, "retry budget used up")

		// A direct start is still legal and the next retry is refused by the budget guard.
		startJob(t, repo, created.ID)
		msg := "again"
		_, ok, err := repo.Transition(ctx, core.TransitionParams{
			JobID: created.ID, From: model.JobStatusProcessing, To: model.JobStatusQueued,
			ErrorMessage: &msg, RetryBackoff: base,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		failed, ok, err := repo.Transition(ctx, core.TransitionParams{
			JobID: created.ID, From: model.JobStatusProcessing, To: model.JobStatusFailed, ErrorMessage: &msg,
		})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2, failed.RetryCount)
		assert.Equal(t, model.JobStatusFailed, failed.Status)
	})
}

func TestJobRepo_Reconcile(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()
		created, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		clock.AddTime(time.Minute)
		job, ok, err := repo.Reconcile(ctx, core.ReconcileParams{
			JobID: created.ID, From: model.JobStatusQueued, To: model.JobStatusCompleted,
		})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		assert.NotNil(t, job.ProcessingStartedAt)
		assert.NotNil(t, job.CompletedAt)

		_, _, err = repo.Reconcile(ctx, core.ReconcileParams{
			JobID: created.ID, From: model.JobStatusCompleted, To: model.JobStatusQueued,
		})
		require.ErrorIs(t, err, model.ErrIllegalTransition)

		_, ok, err = repo.Reconcile(ctx, core.ReconcileParams{
			JobID: created.ID, From: model.JobStatusQueued, To: model.JobStatusProcessing,
		})
		require.NoError(t, err)
		assert.False(t, ok, "stale expectation")
	})
}

func TestJobRepo_CancelBatch(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		queued, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		running, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		startJob(t, repo, running.ID)
		done, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		startJob(t, repo, done.ID)
		_, ok, err := repo.Transition(ctx, core.TransitionParams{JobID: done.ID, From: model.JobStatusProcessing, To: model.JobStatusCompleted})
		require.NoError(t, err)
		require.True(t, ok)

		cancelled, err := repo.CancelBatch(ctx, []string{queued.ID, running.ID, done.ID}, "operator cleanup")
		require.NoError(t, err)
		ids := make([]string, 0, len(cancelled))
		for _, j := range cancelled {
			assert.Equal(t, model.JobStatusCancelled, j.Status)
			assert.Equal(t, "operator cleanup", *j.ErrorMessage)
			assert.NotNil(t, j.CompletedAt)
			ids = append(ids, j.ID)
		}
		assert.ElementsMatch(t, []string{queued.ID, running.ID}, ids)

		again, err := repo.CancelBatch(ctx, []string{queued.ID}, "again")
		require.NoError(t, err)
		assert.Empty(t, again)

		none, err := repo.CancelBatch(ctx, nil, "x")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestJobRepo_RefundMarker(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		job, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		_, ok, err := repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "queued jobs are not refundable")

		_, ok, err = repo.Transition(ctx, core.TransitionParams{JobID: job.ID, From: model.JobStatusQueued, To: model.JobStatusCancelled})
		require.NoError(t, err)
		require.True(t, ok)

		marked, ok, err := repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotNil(t, marked.RefundedAt)

		_, ok, err = repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "refund marker is set once")

		require.NoError(t, repo.ClearRefundMarker(ctx, job.ID))
		_, ok, err = repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestJobRepo_RefundMarker_FreeJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		job, _ := mustCreate(t, repo, testutil.ReportJobRequest())
		_, ok, err := repo.Transition(ctx, core.TransitionParams{JobID: job.ID, From: model.JobStatusQueued, To: model.JobStatusCancelled})
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "nothing to refund")
	})
}

func TestJobRepo_RefundWithCredit(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ledger := NewCreditLedgerRepo(db)
		ctx := context.Background()

		job, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		require.NoError(t, ledger.Grant(ctx, job.UserID, 100))

		_, ok, err := repo.RefundWithCredit(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "queued jobs are not refundable")

		_, ok, err = repo.Transition(ctx, core.TransitionParams{JobID: job.ID, From: model.JobStatusQueued, To: model.JobStatusCancelled})
		require.NoError(t, err)
		require.True(t, ok)

		refunded, ok, err := repo.RefundWithCredit(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotNil(t, refunded.RefundedAt)

		balance, err := ledger.Balance(ctx, job.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(100+job.CreditCost), balance)

		_, ok, err = repo.RefundWithCredit(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "second refund is a no-op")

		balance, err = ledger.Balance(ctx, job.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(100+job.CreditCost), balance, "balance is credited once")

		var rows int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT count(*) FROM credit_transactions WHERE job_id = $1 AND kind = 'refund'`, job.ID).Scan(&rows))
		assert.Equal(t, 1, rows)
	})
}
