package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/service"
)

type fakeLifecycle struct {
	mu        sync.Mutex
	queue     []*model.Job
	statuses  map[string]model.JobStatus
	completed map[string][]byte
	failures  map[string]service.FailRequest
	claimErr  error
	done      chan struct{}
	want      int
	// claimedTypes records the type filter of every claim.
	claimedTypes [][]model.JobType
	// ignoreTypes hands out jobs regardless of the filter, like a store that got it wrong.
	ignoreTypes bool
}

func newFakeLifecycle(want int, jobs ...*model.Job) *fakeLifecycle {
	f := &fakeLifecycle{
		queue:     jobs,
		statuses:  map[string]model.JobStatus{},
		completed: map[string][]byte{},
		failures:  map[string]service.FailRequest{},
		done:      make(chan struct{}),
		want:      want,
	}
	for _, j := range jobs {
		f.statuses[j.ID] = model.JobStatusQueued
	}
	return f
}

func (f *fakeLifecycle) ClaimNext(_ context.Context, n int, types ...model.JobType) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimedTypes = append(f.claimedTypes, types)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var out, rest []*model.Job
	for _, j := range f.queue {
		if len(out) < n && (f.ignoreTypes || len(types) == 0 || slices.Contains(types, j.Type)) {
			out = append(out, j)
			continue
		}
		rest = append(rest, j)
	}
	f.queue = rest
	return out, nil
}

func (f *fakeLifecycle) Get(_ context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.Job{ID: id, Status: f.statuses[id]}, nil
}

func (f *fakeLifecycle) Start(_ context.Context, id string) (model.TransitionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses[id] != model.JobStatusQueued {
		return model.TransitionOutcome{Job: &model.Job{ID: id, Status: f.statuses[id]}}, nil
	}
	f.statuses[id] = model.JobStatusProcessing
	return model.TransitionOutcome{Applied: true, Job: &model.Job{ID: id, Status: model.JobStatusProcessing}}, nil
}

func (f *fakeLifecycle) Complete(_ context.Context, id string, output []byte) (model.TransitionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = model.JobStatusCompleted
	f.completed[id] = output
	f.finishLocked()
	return model.TransitionOutcome{Applied: true}, nil
}

func (f *fakeLifecycle) Fail(_ context.Context, id string, req service.FailRequest) (model.TransitionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = model.JobStatusFailed
	f.failures[id] = req
	f.finishLocked()
	return model.TransitionOutcome{Applied: true}, nil
}

func (f *fakeLifecycle) cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = model.JobStatusCancelled
}

func (f *fakeLifecycle) finishLocked() {
	f.want--
	if f.want == 0 {
		close(f.done)
	}
}

func runUntilDone(t *testing.T, r *Runner, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs were not processed in time")
	}
	cancel()
	require.NoError(t, <-errCh)
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)

	_, err = NewRunner(RunnerOptions{Lifecycle: newFakeLifecycle(0)})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{
		Lifecycle: newFakeLifecycle(0),
		Handlers:  map[model.JobType]Handler{model.JobTypeReport: HandlerFunc(func(context.Context, *model.Job) ([]byte, error) { return nil, nil })},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.cfg.Concurrency, "config is sanitized")
}

func TestRunner_DispatchesByType(t *testing.T) {
	jobs := []*model.Job{
		{ID: "ok", Type: model.JobTypeAssessment},
		{ID: "transient", Type: model.JobTypeReassessment},
		{ID: "permanent", Type: model.JobTypeReport},
	}
	lc := newFakeLifecycle(3, jobs...)

	handlers := map[model.JobType]Handler{
		model.JobTypeAssessment: HandlerFunc(func(context.Context, *model.Job) ([]byte, error) {
			return []byte(`{"score":1}`), nil
		}),
		model.JobTypeReassessment: HandlerFunc(func(context.Context, *model.Job) ([]byte, error) {
			return nil, errors.New("model overloaded")
		}),
		model.JobTypeReport: HandlerFunc(func(context.Context, *model.Job) ([]byte, error) {
			return nil, Permanent(errors.New("bad template"))
		}),
	}
	r, err := NewRunner(RunnerOptions{
		Lifecycle: lc,
		Handlers:  handlers,
		Config:    config.WorkerConfig{Concurrency: 2, PollInterval: 100 * time.Millisecond, ClaimBatch: 2},
	})
	require.NoError(t, err)

	runUntilDone(t, r, lc.done)

	assert.JSONEq(t, `{"score":1}`, string(lc.completed["ok"]))
	assert.True(t, lc.failures["transient"].Retryable)
	assert.Equal(t, "model overloaded", lc.failures["transient"].Message)
	assert.False(t, lc.failures["permanent"].Retryable)
}

func TestRunner_ClaimsOnlyHandledTypes(t *testing.T) {
	lc := newFakeLifecycle(1,
		&model.Job{ID: "report", Type: model.JobTypeReport},
		&model.Job{ID: "assessment", Type: model.JobTypeAssessment},
	)
	r, err := NewRunner(RunnerOptions{
		Lifecycle: lc,
		Handlers: HandlersFor(HandlerFunc(func(context.Context, *model.Job) ([]byte, error) {
			return []byte(`{}`), nil
		}), model.JobTypeAssessment),
		Config: config.WorkerConfig{PollInterval: 20 * time.Millisecond},
	})
	require.NoError(t, err)

	runUntilDone(t, r, lc.done)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	assert.Equal(t, model.JobStatusCompleted, lc.statuses["assessment"])
	assert.Equal(t, model.JobStatusQueued, lc.statuses["report"], "left for a worker that handles reports")
	assert.NotContains(t, lc.failures, "report")
	require.NotEmpty(t, lc.claimedTypes)
	assert.Equal(t, []model.JobType{model.JobTypeAssessment}, lc.claimedTypes[0])
}

func TestRunner_MissingHandlerFailsPermanently(t *testing.T) {
	lc := newFakeLifecycle(1, &model.Job{ID: "orphan-type", Type: model.JobTypeReport})
	lc.ignoreTypes = true
	r, err := NewRunner(RunnerOptions{
		Lifecycle: lc,
		Handlers:  map[model.JobType]Handler{model.JobTypeAssessment: HandlerFunc(func(context.Context, *model.Job) ([]byte, error) { return nil, nil })},
		Config:    config.WorkerConfig{PollInterval: 100 * time.Millisecond},
	})
	require.NoError(t, err)

	runUntilDone(t, r, lc.done)
	assert.False(t, lc.failures["orphan-type"].Retryable)
	assert.Contains(t, lc.failures["orphan-type"].Message, "no handler")
}

func TestRunner_CancelPollStopsHandler(t *testing.T) {
	lc := newFakeLifecycle(0, &model.Job{ID: "long", Type: model.JobTypeAssessment})
	stopped := make(chan error, 1)

	r, err := NewRunner(RunnerOptions{
		Lifecycle: lc,
		Handlers: map[model.JobType]Handler{model.JobTypeAssessment: HandlerFunc(func(ctx context.Context, j *model.Job) ([]byte, error) {
			lc.cancel(j.ID)
			<-ctx.Done()
			stopped <- context.Cause(ctx)
			return nil, ctx.Err()
		})},
		Config: config.WorkerConfig{PollInterval: 100 * time.Millisecond, CancelPoll: 10 * time.Millisecond},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	select {
	case cause := <-stopped:
		require.ErrorIs(t, cause, ErrJobCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not cancelled")
	}
	cancel()

	lc.mu.Lock()
	defer lc.mu.Unlock()
	assert.Empty(t, lc.failures, "a cancelled job is not reported as failed")
	assert.Empty(t, lc.completed)
}

func TestRunner_ShutdownRequeuesRunningJob(t *testing.T) {
	lc := newFakeLifecycle(1, &model.Job{ID: "interrupted", Type: model.JobTypeAssessment})
	running := make(chan struct{})

	r, err := NewRunner(RunnerOptions{
		Lifecycle: lc,
		Handlers: map[model.JobType]Handler{model.JobTypeAssessment: HandlerFunc(func(ctx context.Context, _ *model.Job) ([]byte, error) {
			close(running)
			<-ctx.Done()
			return nil, ctx.Err()
		})},
		Config: config.WorkerConfig{PollInterval: 100 * time.Millisecond},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not start")
	}
	cancel()
	require.NoError(t, <-errCh)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	req, ok := lc.failures["interrupted"]
	require.True(t, ok, "interrupted job is handed back")
	assert.True(t, req.Retryable)
	assert.ErrorIs(t, req.Cause, ErrWorkerShutdown)
	assert.Empty(t, lc.completed)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	base := errors.New("x")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
