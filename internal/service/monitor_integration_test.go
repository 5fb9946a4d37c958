package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/data"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/testutil"
)

// pgEngine wires the services over real repositories and a Postgres ledger on one fixed clock.
type pgEngine struct {
	jobs      *data.JobRepo
	results   *data.ResultRepo
	ledger    *data.CreditLedgerRepo
	clock     *data.FixedTimeProvider
	lifecycle *LifecycleService
	monitor   *MonitorService
}

func newPGEngine(t *testing.T, db *sql.DB) *pgEngine {
	t.Helper()

	clock := data.NewFixedTimeProvider(testutil.TestTime())
	jobs := data.NewJobRepo(db, data.RepoConfig{TimeProvider: clock})
	results := data.NewResultRepo(db, clock)
	ledger := data.NewCreditLedgerRepo(db)

	refunds, err := NewRefundService(RefundServiceOptions{Marker: jobs, Ledger: ledger, Atomic: jobs})
	require.NoError(t, err)
	finalizer := NewFinalizer(FinalizerOptions{Results: results, Refunds: refunds, Clock: clock.Now})

	lifecycle, err := NewLifecycleService(LifecycleServiceOptions{Jobs: jobs, Finalizer: finalizer})
	require.NoError(t, err)
	monitor, err := NewMonitorService(MonitorServiceOptions{
		Repo: jobs,
		Config: config.MonitorConfig{
			Interval:                 time.Minute,
			ProcessingTimeoutMinutes: 60,
			QueuedTimeoutHours:       24,
			BatchSize:                100,
		},
		Finalizer: finalizer,
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	return &pgEngine{
		jobs:      jobs,
		results:   results,
		ledger:    ledger,
		clock:     clock,
		lifecycle: lifecycle,
		monitor:   monitor,
	}
}

func (e *pgEngine) submitAndStart(t *testing.T, req *model.CreateJobRequest) *model.Job {
	t.Helper()
	ctx := context.Background()

	job, _, err := e.lifecycle.Submit(ctx, req)
	require.NoError(t, err)
	claimed, err := e.lifecycle.ClaimNext(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, job.ID, claimed[0].ID)

	out, err := e.lifecycle.Start(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, out.Applied)
	return out.Job
}

func TestMonitorService_Sweep_RefundsStuckProcessingJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		e := newPGEngine(t, db)
		ctx := context.Background()

		req := testutil.AssessmentJobRequest()
		require.NoError(t, e.ledger.Grant(ctx, req.UserID, 100))
		job := e.submitAndStart(t, req)

		e.clock.AddTime(61 * time.Minute)
		report, err := e.monitor.Sweep(ctx)
		require.NoError(t, err)
		assert.True(t, report.LockAcquired)
		assert.Equal(t, 1, report.TransitionedProcessing)
		assert.Equal(t, 1, report.Refunded)

		state := testutil.JobStates(t, db)[job.ID]
		assert.Equal(t, string(model.JobStatusFailed), state.Status)
		assert.Equal(t, model.StuckJobTimeoutMessage, state.ErrorMessage)
		require.NotNil(t, state.RefundedAt)
		assert.True(t, state.RefundedAt.Equal(e.clock.Now()))

		balance, err := e.ledger.Balance(ctx, job.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(100+job.CreditCost), balance)

		require.NotNil(t, job.ResultID)
		res, err := e.results.GetByID(ctx, *job.ResultID)
		require.NoError(t, err)
		assert.Equal(t, model.ResultStatusFailed, res.Status)

		// A second sweep finds nothing and does not credit again.
		report, err = e.monitor.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Transitioned())
		balance, err = e.ledger.Balance(ctx, job.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(100+job.CreditCost), balance)
	})
}

func TestMonitorService_Sweep_FailsOldQueuedJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		e := newPGEngine(t, db)
		ctx := context.Background()

		fresh, _, err := e.lifecycle.Submit(ctx, testutil.AssessmentJobRequest())
		require.NoError(t, err)
		old, _, err := e.lifecycle.Submit(ctx, testutil.AssessmentJobRequest())
		require.NoError(t, err)
		testutil.BackdateJob(t, db, old.ID, e.clock.Now().Add(-25*time.Hour))

		report, err := e.monitor.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.TransitionedQueued)
		assert.Equal(t, 1, report.Refunded)
		assert.Equal(t, 1, report.Buckets.Queued24h)

		states := testutil.JobStates(t, db)
		assert.Equal(t, string(model.JobStatusFailed), states[old.ID].Status)
		assert.NotNil(t, states[old.ID].RefundedAt)
		assert.NotNil(t, states[old.ID].CompletedAt)
		assert.Equal(t, string(model.JobStatusQueued), states[fresh.ID].Status)
		assert.Nil(t, states[fresh.ID].RefundedAt)

		balance, err := e.ledger.Balance(ctx, old.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(old.CreditCost), balance)
	})
}

func TestLifecycleService_Complete_PersistsOutput(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		e := newPGEngine(t, db)
		ctx := context.Background()

		job := e.submitAndStart(t, testutil.AssessmentJobRequest())
		require.NotNil(t, job.ResultID)

		e.clock.AddTime(time.Minute)
		out, err := e.lifecycle.Complete(ctx, job.ID, []byte(`{"score": 87}`))
		require.NoError(t, err)
		require.True(t, out.Applied)
		assert.Equal(t, model.JobStatusCompleted, out.Job.Status)
		assert.False(t, out.Refunded)

		res, err := e.results.GetByID(ctx, *job.ResultID)
		require.NoError(t, err)
		assert.Equal(t, model.ResultStatusCompleted, res.Status)
		assert.JSONEq(t, `{"score": 87}`, string(res.OutputPayload))
		assert.Nil(t, res.ErrorMessage)
		require.NotNil(t, res.JobID)
		assert.Equal(t, job.ID, *res.JobID)

		state := testutil.JobStates(t, db)[job.ID]
		assert.Equal(t, string(model.JobStatusCompleted), state.Status)
		assert.Nil(t, state.RefundedAt)

		// A repeated completion is a no-op and keeps the stored output.
		_, err = e.lifecycle.Complete(ctx, job.ID, []byte(`{"score": 1}`))
		require.Error(t, err)
		res, err = e.results.GetByID(ctx, *job.ResultID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"score": 87}`, string(res.OutputPayload))
	})
}
