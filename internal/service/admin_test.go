package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/mocks"
	"go.uber.org/mock/gomock"
)

type adminFixture struct {
	svc     *AdminService
	jobs    *mocks.MockJobRepository
	results *mocks.MockResultRepository
	audit   *mocks.MockAuditRepository
	cache   *mocks.MockStatsCache
}

func newAdminFixture(t *testing.T, withCache bool, monitor *MonitorService) *adminFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &adminFixture{
		jobs:    mocks.NewMockJobRepository(ctrl),
		results: mocks.NewMockResultRepository(ctrl),
		audit:   mocks.NewMockAuditRepository(ctrl),
	}
	opts := AdminServiceOptions{
		Jobs:     f.jobs,
		Results:  f.results,
		Audit:    f.audit,
		Monitor:  monitor,
		CacheTTL: 5 * time.Second,
		Logger:   discardLogger(),
		Clock:    func() time.Time { return testNow },
	}
	if withCache {
		f.cache = mocks.NewMockStatsCache(ctrl)
		opts.Cache = f.cache
	}
	svc, err := NewAdminService(opts)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewAdminService(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := NewAdminService(AdminServiceOptions{Results: mocks.NewMockResultRepository(ctrl)})
	require.ErrorIs(t, err, ErrRepoRequired)

	_, err = NewAdminService(AdminServiceOptions{
		Jobs:  mocks.NewMockJobRepository(ctrl),
		Audit: mocks.NewMockAuditRepository(ctrl),
	})
	require.ErrorIs(t, err, ErrResultsRequired)
}

func TestAdminService_Stats(t *testing.T) {
	ctx := context.Background()
	jobStats := &model.JobStats{Queued: 2, Failed: 1}
	resStats := &model.ResultStats{Queued: 2, Failed: 1}

	t.Run("computes without cache", func(t *testing.T) {
		f := newAdminFixture(t, false, nil)
		f.jobs.EXPECT().Stats(gomock.Any()).Return(jobStats, nil)
		f.results.EXPECT().Stats(gomock.Any()).Return(resStats, nil)

		stats, err := f.svc.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Jobs.Total())
		assert.Equal(t, 1, stats.Results.Failed)
		assert.Equal(t, testNow, stats.GeneratedAt)
	})

	t.Run("serves cached snapshot", func(t *testing.T) {
		f := newAdminFixture(t, true, nil)
		cached := &model.EngineStats{Jobs: *jobStats}
		f.cache.EXPECT().GetStats(gomock.Any()).Return(cached, nil)

		stats, err := f.svc.Stats(ctx)
		require.NoError(t, err)
		assert.Same(t, cached, stats)
	})

	t.Run("refresh lock winner writes back", func(t *testing.T) {
		f := newAdminFixture(t, true, nil)
		f.cache.EXPECT().GetStats(gomock.Any()).Return(nil, nil)
		f.cache.EXPECT().TryLockRefresh(gomock.Any(), 5*time.Second).Return(true, nil)
		f.jobs.EXPECT().Stats(gomock.Any()).Return(jobStats, nil)
		f.results.EXPECT().Stats(gomock.Any()).Return(resStats, nil)
		f.cache.EXPECT().SetStats(gomock.Any(), gomock.Any(), 5*time.Second).Return(nil)

		_, err := f.svc.Stats(ctx)
		require.NoError(t, err)
	})

	t.Run("refresh lock loser skips write", func(t *testing.T) {
		f := newAdminFixture(t, true, nil)
		f.cache.EXPECT().GetStats(gomock.Any()).Return(nil, errors.New("redis down"))
		f.cache.EXPECT().TryLockRefresh(gomock.Any(), gomock.Any()).Return(false, nil)
		f.jobs.EXPECT().Stats(gomock.Any()).Return(jobStats, nil)
		f.results.EXPECT().Stats(gomock.Any()).Return(resStats, nil)

		_, err := f.svc.Stats(ctx)
		require.NoError(t, err)
	})

	t.Run("store error", func(t *testing.T) {
		f := newAdminFixture(t, false, nil)
		f.jobs.EXPECT().Stats(gomock.Any()).Return(nil, errors.New("db down"))
		f.results.EXPECT().Stats(gomock.Any()).Return(resStats, nil).AnyTimes()

		_, err := f.svc.Stats(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job stats")
	})
}

func TestAdminService_Lists(t *testing.T) {
	ctx := context.Background()
	f := newAdminFixture(t, false, nil)

	f.audit.EXPECT().ListOrphans(gomock.Any(), 100).Return([]model.OrphanedJob{{JobID: testJobID}}, nil)
	orphans, err := f.svc.ListOrphans(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, orphans, 1)

	f.audit.EXPECT().ListDeadLetter(gomock.Any(), model.DeadLetterOptions{Limit: 1000}).Return(nil, nil)
	_, err = f.svc.ListRetryExhausted(ctx, model.DeadLetterOptions{Limit: 5000})
	require.NoError(t, err)

	status := model.JobStatusQueued
	f.jobs.EXPECT().List(gomock.Any(), &model.JobListOptions{Status: &status, Limit: 20}).Return(nil, nil)
	_, err = f.svc.ListJobs(ctx, model.JobListOptions{Status: &status, Limit: 20, Offset: -3})
	require.NoError(t, err)
}

func TestAdminService_ForceSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without monitor", func(t *testing.T) {
		f := newAdminFixture(t, false, nil)
		_, err := f.svc.ForceSweep(ctx)
		require.ErrorIs(t, err, ErrFeatureDisabled)

		_, err = f.svc.BulkCancel(ctx, model.BulkCancelRequest{IDs: []string{testJobID}})
		require.ErrorIs(t, err, ErrFeatureDisabled)

		_, err = f.svc.Sync(ctx, testJobID)
		require.ErrorIs(t, err, ErrFeatureDisabled)
	})

	t.Run("invalidates cache after transitions", func(t *testing.T) {
		repo := newFakeMonitorRepo()
		repo.stale[core.StaleProcessing] = staleJobs("p", 1, model.JobStatusProcessing)
		monitor := newTestMonitor(t, repo, nil, nil)
		f := newAdminFixture(t, true, monitor)
		f.cache.EXPECT().Invalidate(gomock.Any()).Return(nil)

		report, err := f.svc.ForceSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.TransitionedProcessing)
	})
}
