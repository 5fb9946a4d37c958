package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/internal/core"
	domainjob "github.com/target/assessment-jobs/internal/domain/job"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/mocks"
	"github.com/target/assessment-jobs/internal/observability/notify"
	"github.com/target/assessment-jobs/internal/service/failurenotifier"
	"go.uber.org/mock/gomock"
)

const testJobID = "550e8400-e29b-41d4-a716-446655440000"

type lifecycleFixture struct {
	svc     *LifecycleService
	repo    *mocks.MockJobRepository
	state   *jobState
	events  *eventRecorder
	ledger  *ledgerRecorder
	alerts  *[]notify.JobFailurePayload
	results *mocks.MockResultRepository
}

// newLifecycleFixture wires a LifecycleService whose repository mock delegates to one in-memory row.
func newLifecycleFixture(t *testing.T, job *model.Job) *lifecycleFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	repo := mocks.NewMockJobRepository(ctrl)
	results := mocks.NewMockResultRepository(ctrl)
	state := &jobState{job: job}
	repo.EXPECT().GetByID(gomock.Any(), job.ID).DoAndReturn(state.get).AnyTimes()
	repo.EXPECT().Transition(gomock.Any(), gomock.Any()).DoAndReturn(state.transition).AnyTimes()
	results.EXPECT().UpdateStatus(gomock.Any(), gomock.Any()).Return(&model.Result{}, true, nil).AnyTimes()

	events := &eventRecorder{}
	ledger := &ledgerRecorder{}
	var alerts []notify.JobFailurePayload
	notifier := failurenotifier.NewService(failurenotifier.Options{
		Logger: discardLogger(),
		Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
				alerts = append(alerts, p)
				return nil
			}),
		}},
	})

	finalizer := NewFinalizer(FinalizerOptions{
		Results:         results,
		Refunds:         MustNewRefundService(RefundServiceOptions{Marker: markerState{state: state}, Ledger: ledger, Logger: discardLogger()}),
		Events:          events.publisher(),
		FailureNotifier: notifier,
		Logger:          discardLogger(),
		Clock:           func() time.Time { return testNow },
	})

	policy, err := domainjob.NewRetryPolicy(5*time.Second, 3)
	require.NoError(t, err)

	svc := MustNewLifecycleService(LifecycleServiceOptions{
		Jobs:      repo,
		Finalizer: finalizer,
		Policy:    policy,
		Logger:    discardLogger(),
	})
	return &lifecycleFixture{svc: svc, repo: repo, state: state, events: events, ledger: ledger, alerts: &alerts, results: results}
}

func TestNewLifecycleService(t *testing.T) {
	_, err := NewLifecycleService(LifecycleServiceOptions{})
	require.ErrorIs(t, err, ErrRepoRequired)

	assert.Panics(t, func() { MustNewLifecycleService(LifecycleServiceOptions{}) })

	ctrl := gomock.NewController(t)
	svc, err := NewLifecycleService(LifecycleServiceOptions{Jobs: mocks.NewMockJobRepository(ctrl)})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, svc.policy.Base())
}

func TestLifecycleService_Submit(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc := MustNewLifecycleService(LifecycleServiceOptions{Jobs: repo, Logger: discardLogger()})

	t.Run("rejects invalid request", func(t *testing.T) {
		_, _, err := svc.Submit(context.Background(), &SubmitJobRequest{UserID: "u", Type: "bogus", Payload: json.RawMessage(`{}`)})
		require.ErrorIs(t, err, ErrInvalidRequest)

		zero := 0
		_, _, err = svc.Submit(context.Background(), &SubmitJobRequest{
			UserID: "u", Type: model.JobTypeAssessment, Payload: json.RawMessage(`{}`), MaxRetries: &zero,
		})
		require.ErrorIs(t, err, ErrInvalidRequest)

		_, _, err = svc.Submit(context.Background(), nil)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("applies default retry budget", func(t *testing.T) {
		req := &SubmitJobRequest{UserID: "u", Type: model.JobTypeAssessment, Payload: json.RawMessage(`{"a":1}`), CreditCost: 5}
		job := newTestJob(testJobID, model.JobStatusQueued)
		res := &model.Result{ID: *job.ResultID, Status: model.ResultStatusQueued}

		repo.EXPECT().
			Create(gomock.Any(), core.CreateJobParams{Request: req, MaxRetries: 3}).
			Return(job, res, nil)

		gotJob, gotRes, err := svc.Submit(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, job, gotJob)
		assert.Equal(t, model.ResultStatusQueued, gotRes.Status)
	})

	t.Run("keeps explicit retry budget", func(t *testing.T) {
		two := 2
		req := &SubmitJobRequest{UserID: "u", Type: model.JobTypeReport, Payload: json.RawMessage(`{}`), MaxRetries: &two}
		repo.EXPECT().
			Create(gomock.Any(), core.CreateJobParams{Request: req, MaxRetries: 2}).
			Return(newTestJob(testJobID, model.JobStatusQueued), &model.Result{}, nil)

		_, _, err := svc.Submit(context.Background(), req)
		require.NoError(t, err)
	})

	t.Run("wraps store error", func(t *testing.T) {
		req := &SubmitJobRequest{UserID: "u", Type: model.JobTypeReport, Payload: json.RawMessage(`{}`)}
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, nil, errors.New("db down"))

		_, _, err := svc.Submit(context.Background(), req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create job")
	})
}

func TestLifecycleService_StartAndComplete(t *testing.T) {
	f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusQueued))
	ctx := context.Background()

	out, err := f.svc.Start(ctx, testJobID)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, model.JobStatusProcessing, out.Job.Status)
	assert.NotNil(t, out.Job.ProcessingStartedAt)

	out, err = f.svc.Complete(ctx, testJobID, []byte(`{"score":9}`))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.False(t, out.Refunded)
	assert.Equal(t, model.JobStatusCompleted, out.Job.Status)
	assert.JSONEq(t, `{"score":9}`, string(f.state.output))

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, testJobID+":completed", events[0].EventID)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Zero(t, f.ledger.count())
	assert.Empty(t, *f.alerts)
}

func TestLifecycleService_CompleteWriteErrorLeavesJobProcessing(t *testing.T) {
	f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusProcessing))
	ctx := context.Background()

	f.state.failNext = errors.New("write result output: conn reset")
	out, err := f.svc.Complete(ctx, testJobID, []byte(`{"score":4}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn reset")
	assert.False(t, out.Applied)
	assert.Nil(t, f.state.output)
	assert.Empty(t, f.events.all())

	job, err := f.svc.Get(ctx, testJobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)

	// The worker reports the same completion again and it lands.
	out, err = f.svc.Complete(ctx, testJobID, []byte(`{"score":4}`))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.JSONEq(t, `{"score":4}`, string(f.state.output))
	assert.Len(t, f.events.all(), 1)
}

func TestLifecycleService_IllegalTransition(t *testing.T) {
	f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusCompleted))
	ctx := context.Background()

	_, err := f.svc.Start(ctx, testJobID)
	require.ErrorIs(t, err, model.ErrIllegalTransition)

	_, err = f.svc.Cancel(ctx, testJobID, "")
	require.ErrorIs(t, err, model.ErrIllegalTransition)

	_, err = f.svc.Fail(ctx, testJobID, FailRequest{Message: "x"})
	require.ErrorIs(t, err, model.ErrIllegalTransition)
	assert.Empty(t, f.events.all())
}

func TestLifecycleService_LostRaceIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc := MustNewLifecycleService(LifecycleServiceOptions{Jobs: repo, Logger: discardLogger()})

	queued := newTestJob(testJobID, model.JobStatusQueued)
	processing := newTestJob(testJobID, model.JobStatusProcessing)
	gomock.InOrder(
		repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(queued, nil),
		repo.EXPECT().Transition(gomock.Any(), core.TransitionParams{
			JobID: testJobID, From: model.JobStatusQueued, To: model.JobStatusProcessing,
		}).Return(nil, false, nil),
		repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(processing, nil),
	)

	out, err := svc.Start(context.Background(), testJobID)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, model.JobStatusProcessing, out.Job.Status)
}

func TestLifecycleService_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc := MustNewLifecycleService(LifecycleServiceOptions{Jobs: repo, Logger: discardLogger()})

	repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(nil, model.ErrJobNotFound)

	_, err := svc.Cancel(context.Background(), testJobID, "")
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

// A budget of two absorbs two transient failures; the third is terminal and refunded once.
func TestLifecycleService_RetryScenario(t *testing.T) {
	job := newTestJob(testJobID, model.JobStatusQueued)
	job.MaxRetries = 2
	f := newLifecycleFixture(t, job)
	ctx := context.Background()

	fail := func() model.TransitionOutcome {
		t.Helper()
		out, err := f.svc.Fail(ctx, testJobID, FailRequest{Message: "upstream timeout", Retryable: true})
		require.NoError(t, err)
		require.True(t, out.Applied)
		return out
	}

	_, err := f.svc.Start(ctx, testJobID)
	require.NoError(t, err)
	first := fail()
	assert.True(t, first.Requeued)
	assert.Equal(t, model.JobStatusQueued, first.Job.Status)
	assert.Equal(t, 1, first.Job.RetryCount)
	assert.Equal(t, testNow.Add(5*time.Second), first.Job.NextEligibleAt)

	_, err = f.svc.Start(ctx, testJobID)
	require.NoError(t, err)
	second := fail()
	assert.True(t, second.Requeued)
	assert.Equal(t, 2, second.Job.RetryCount)
	assert.Equal(t, testNow.Add(10*time.Second), second.Job.NextEligibleAt)

	_, err = f.svc.Start(ctx, testJobID)
	require.NoError(t, err)
	third := fail()
	assert.False(t, third.Requeued)
	assert.True(t, third.Refunded)
	assert.Equal(t, model.JobStatusFailed, third.Job.Status)
	assert.Equal(t, 2, third.Job.RetryCount)

	assert.Equal(t, 1, f.ledger.count())
	events := f.events.all()
	require.Len(t, events, 1, "only the terminal transition emits an event")
	assert.Equal(t, testJobID+":failed", events[0].EventID)

	require.Len(t, *f.alerts, 1)
	assert.Equal(t, notify.ReasonRetryExhausted, (*f.alerts)[0].Reason)
	assert.Equal(t, notify.SeverityCritical, (*f.alerts)[0].Severity)
	assert.True(t, (*f.alerts)[0].Refunded)
}

func TestLifecycleService_TerminalFailure(t *testing.T) {
	f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusProcessing))

	out, err := f.svc.Fail(context.Background(), testJobID, FailRequest{Message: "bad input", Cause: errors.New("schema mismatch")})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.False(t, out.Requeued)
	assert.True(t, out.Refunded)
	assert.Equal(t, "bad input", *out.Job.ErrorMessage)
	assert.Zero(t, out.Job.RetryCount)

	require.Len(t, *f.alerts, 1)
	assert.Equal(t, notify.ReasonWorkerError, (*f.alerts)[0].Reason)
	assert.Equal(t, notify.SeverityWarning, (*f.alerts)[0].Severity)

	// A second failure report for the same job is rejected and refunds nothing.
	_, err = f.svc.Fail(context.Background(), testJobID, FailRequest{Message: "again"})
	require.ErrorIs(t, err, model.ErrIllegalTransition)
	assert.Equal(t, 1, f.ledger.count())
}

func TestLifecycleService_Cancel(t *testing.T) {
	f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusQueued))

	out, err := f.svc.Cancel(context.Background(), testJobID, "  ")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.True(t, out.Refunded)
	assert.Equal(t, model.JobStatusCancelled, out.Job.Status)
	assert.Equal(t, model.DefaultCancelledMessage, *out.Job.ErrorMessage)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.JobStatusCancelled, events[0].Status)
	assert.Empty(t, *f.alerts, "cancellations are not alerted")
}

func TestLifecycleService_TransitionTo(t *testing.T) {
	t.Run("dispatches on target", func(t *testing.T) {
		f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusQueued))
		ctx := context.Background()

		out, err := f.svc.TransitionTo(ctx, model.TransitionRequest{JobID: testJobID, To: model.JobStatusProcessing})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, out.Job.Status)

		out, err = f.svc.TransitionTo(ctx, model.TransitionRequest{JobID: testJobID, To: model.JobStatusQueued, ErrorMessage: "rate limited"})
		require.NoError(t, err)
		assert.True(t, out.Requeued)
		assert.Equal(t, "rate limited", *out.Job.ErrorMessage)
	})

	t.Run("explicit retry without budget", func(t *testing.T) {
		job := newTestJob(testJobID, model.JobStatusProcessing)
		job.RetryCount, job.MaxRetries = 1, 1
		f := newLifecycleFixture(t, job)

		_, err := f.svc.TransitionTo(context.Background(), model.TransitionRequest{JobID: testJobID, To: model.JobStatusQueued})
		require.ErrorIs(t, err, ErrRetryBudgetExhausted)
		require.ErrorIs(t, err, model.ErrIllegalTransition)
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newLifecycleFixture(t, newTestJob(testJobID, model.JobStatusQueued))
		_, err := f.svc.TransitionTo(context.Background(), model.TransitionRequest{JobID: testJobID, To: "archived"})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestLifecycleService_ClaimNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc := MustNewLifecycleService(LifecycleServiceOptions{Jobs: repo, Logger: discardLogger()})

	repo.EXPECT().ClaimNext(gomock.Any(), 2).Return([]*model.Job{newTestJob(testJobID, model.JobStatusQueued)}, nil)
	jobs, err := svc.ClaimNext(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	repo.EXPECT().ClaimNext(gomock.Any(), 1).Return(nil, errors.New("boom"))
	_, err = svc.ClaimNext(context.Background(), 1)
	require.Error(t, err)
}
