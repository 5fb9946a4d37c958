// Package monitor provides the adapter that runs the stuck job monitor as a service mode.
package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/data"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/service"
)

// Runner runs the monitor sweep loop.
type Runner struct {
	monitor *service.MonitorService
	logger  *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.MonitorConfig
	Logger *slog.Logger

	// Service, when set, is run as-is and the wiring fields below are ignored.
	Service *service.MonitorService

	// Optional dependency injection for testing/decoupling
	Repo      core.MonitorRepository
	Finalizer *service.Finalizer
	Metrics   *metrics.Engine
}

// NewRunner creates a new monitor runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	monitor, err := wireMonitorService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire monitor service: %w", err)
	}

	return &Runner{monitor: monitor, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Service == nil && opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection or monitor repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

func wireMonitorService(opts RunnerOptions) (*service.MonitorService, error) {
	if opts.Service != nil {
		return opts.Service, nil
	}
	repo := opts.Repo
	if repo == nil {
		repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	return service.NewMonitorService(service.MonitorServiceOptions{
		Repo:      repo,
		Config:    opts.Config,
		Finalizer: opts.Finalizer,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
}

// Service exposes the wired monitor, e.g. for the admin force-sweep endpoint.
func (r *Runner) Service() *service.MonitorService {
	return r.monitor
}

// Run starts the monitor loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting monitor runner")
	return r.monitor.Run(ctx)
}
