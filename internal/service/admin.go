package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
)

const (
	defaultAdminListLimit = 100
	maxAdminListLimit     = 1000
	defaultStatsCacheTTL  = 10 * time.Second
)

// AdminServiceOptions groups dependencies for AdminService.
type AdminServiceOptions struct {
	Jobs    core.JobRepository    // Required
	Results core.ResultRepository // Required
	Audit   core.AuditRepository  // Required: orphan and dead-letter queries
	Monitor *MonitorService       // Optional: enables ForceSweep
	Bulk    *BulkService          // Optional: enables BulkCancel
	Syncer  *SyncService          // Optional: enables Sync
	Cache   core.StatsCache       // Optional: stats snapshot cache
	// CacheTTL is how long a stats snapshot stays fresh.
	CacheTTL time.Duration
	Logger   *slog.Logger
	Clock    func() time.Time
}

// AdminService answers operator queries and runs operator actions.
type AdminService struct {
	jobs     core.JobRepository
	results  core.ResultRepository
	audit    core.AuditRepository
	monitor  *MonitorService
	bulk     *BulkService
	syncer   *SyncService
	cache    core.StatsCache
	cacheTTL time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

// ErrFeatureDisabled is returned when an admin action's backing service was not wired.
var ErrFeatureDisabled = errors.New("feature not enabled")

// NewAdminService constructs an AdminService.
func NewAdminService(opts AdminServiceOptions) (*AdminService, error) {
	if opts.Jobs == nil || opts.Audit == nil {
		return nil, ErrRepoRequired
	}
	if opts.Results == nil {
		return nil, ErrResultsRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultStatsCacheTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminService{
		jobs:     opts.Jobs,
		results:  opts.Results,
		audit:    opts.Audit,
		monitor:  opts.Monitor,
		bulk:     opts.Bulk,
		syncer:   opts.Syncer,
		cache:    opts.Cache,
		cacheTTL: ttl,
		logger:   logger.With("component", "admin_service"),
		clock:    clock,
	}, nil
}

// Stats returns the dashboard snapshot, served from cache while fresh.
func (s *AdminService) Stats(ctx context.Context) (*model.EngineStats, error) {
	if s.cache != nil {
		cached, err := s.cache.GetStats(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "stats cache read failed", "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	// Only the caller that wins the refresh lock writes the snapshot back.
	writeBack := false
	if s.cache != nil {
		won, err := s.cache.TryLockRefresh(ctx, s.cacheTTL)
		if err != nil {
			s.logger.WarnContext(ctx, "stats cache lock failed", "error", err)
		}
		writeBack = won
	}

	stats, err := s.computeStats(ctx)
	if err != nil {
		return nil, err
	}

	if writeBack {
		if err := s.cache.SetStats(ctx, stats, s.cacheTTL); err != nil {
			s.logger.WarnContext(ctx, "stats cache write failed", "error", err)
		}
	}
	return stats, nil
}

func (s *AdminService) computeStats(ctx context.Context) (*model.EngineStats, error) {
	var (
		jobs    *model.JobStats
		results *model.ResultStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		jobs, err = s.jobs.Stats(gctx)
		if err != nil {
			return fmt.Errorf("job stats: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		results, err = s.results.Stats(gctx)
		if err != nil {
			return fmt.Errorf("result stats: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &model.EngineStats{Jobs: *jobs, Results: *results, GeneratedAt: s.clock().UTC()}, nil
}

// ListOrphans lists jobs whose result reference no longer resolves. Orphans are never repaired automatically.
func (s *AdminService) ListOrphans(ctx context.Context, limit int) ([]model.OrphanedJob, error) {
	orphans, err := s.audit.ListOrphans(ctx, clampListLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	return orphans, nil
}

// ListRetryExhausted lists failed jobs that used their whole retry budget.
func (s *AdminService) ListRetryExhausted(ctx context.Context, opts model.DeadLetterOptions) ([]*model.Job, error) {
	opts.Limit = clampListLimit(opts.Limit)
	jobs, err := s.audit.ListDeadLetter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list dead letter: %w", err)
	}
	return jobs, nil
}

// ListJobs lists jobs with optional filters.
func (s *AdminService) ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	opts.Limit = clampListLimit(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	jobs, err := s.jobs.List(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ForceSweep runs the stuck-job monitor once and drops any cached stats.
func (s *AdminService) ForceSweep(ctx context.Context) (model.SweepReport, error) {
	if s.monitor == nil {
		return model.SweepReport{}, fmt.Errorf("sweep: %w", ErrFeatureDisabled)
	}
	report, err := s.monitor.Sweep(ctx)
	if report.Transitioned() > 0 {
		s.invalidateStats(ctx)
	}
	return report, err
}

// BulkCancel cancels the given jobs in batches.
func (s *AdminService) BulkCancel(ctx context.Context, req model.BulkCancelRequest) (model.BulkResult, error) {
	if s.bulk == nil {
		return model.BulkResult{}, fmt.Errorf("bulk cancel: %w", ErrFeatureDisabled)
	}
	if len(req.IDs) == 0 {
		return model.BulkResult{}, fmt.Errorf("%w: ids are required", ErrInvalidRequest)
	}
	res, err := s.bulk.BulkCancel(ctx, req.IDs, req.Reason)
	if len(res.Successful) > 0 {
		s.invalidateStats(ctx)
	}
	return res, err
}

// Sync reconciles one job with its result.
func (s *AdminService) Sync(ctx context.Context, jobID string) (model.SyncResult, error) {
	if s.syncer == nil {
		return model.SyncResult{}, fmt.Errorf("sync: %w", ErrFeatureDisabled)
	}
	return s.syncer.Sync(ctx, jobID)
}

func (s *AdminService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "stats cache invalidate failed", "error", err)
	}
}

func clampListLimit(limit int) int {
	if limit <= 0 {
		return defaultAdminListLimit
	}
	return min(limit, maxAdminListLimit)
}
