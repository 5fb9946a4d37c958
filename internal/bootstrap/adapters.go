package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/adapters/monitor"
	"github.com/target/assessment-jobs/internal/adapters/worker"
	domainjob "github.com/target/assessment-jobs/internal/domain/job"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/service"
)

// WorkerConfig contains configuration for the job worker pool.
type WorkerConfig struct {
	Lifecycle worker.Lifecycle
	Notifier  domainjob.Notifier
	Config    config.WorkerConfig
	// Handlers overrides the HTTP executor built from Config.ExecutorURL.
	Handlers map[model.JobType]worker.Handler
	Logger   *slog.Logger
}

// RunWorker starts the worker pool and blocks until ctx ends.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	handlers := cfg.Handlers
	if len(handlers) == 0 {
		var err error
		handlers, err = executorHandlers(cfg.Config)
		if err != nil {
			return err
		}
	}

	runner, err := worker.NewRunner(worker.RunnerOptions{
		Lifecycle: cfg.Lifecycle,
		Notifier:  cfg.Notifier,
		Handlers:  handlers,
		Config:    cfg.Config,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create worker runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run worker: %w", runErr)
	}
	return nil
}

func executorHandlers(cfg config.WorkerConfig) (map[model.JobType]worker.Handler, error) {
	exec, err := worker.NewHTTPExecutor(worker.ExecutorConfig{
		BaseURL: cfg.ExecutorURL,
		Timeout: cfg.ExecutorTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	types := make([]model.JobType, 0, len(cfg.JobTypes))
	for _, raw := range cfg.JobTypes {
		var t model.JobType
		if err := t.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("worker job types: %w", err)
		}
		types = append(types, t)
	}
	return worker.HandlersFor(exec, types...), nil
}

// MonitorConfig contains configuration for the stuck job monitor.
type MonitorConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.MonitorConfig
	Metrics *metrics.Engine
	// Service is the container's monitor, shared with the admin force-sweep endpoint.
	Service   *service.MonitorService
	Finalizer *service.Finalizer
}

// RunMonitor starts the monitor loop and blocks until ctx ends.
func RunMonitor(ctx context.Context, cfg MonitorConfig) error {
	runner, err := monitor.NewRunner(monitor.RunnerOptions{
		DB:        cfg.DB,
		Config:    cfg.Config,
		Logger:    cfg.Logger,
		Service:   cfg.Service,
		Finalizer: cfg.Finalizer,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create monitor runner: %w", err)
	}

	return runner.Run(ctx)
}
