package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/adapters/events"
	redisadapter "github.com/target/assessment-jobs/internal/adapters/redis"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/data"
	domainjob "github.com/target/assessment-jobs/internal/domain/job"
	"github.com/target/assessment-jobs/internal/observability/metrics"
	"github.com/target/assessment-jobs/internal/observability/notify/pagerduty"
	"github.com/target/assessment-jobs/internal/observability/notify/slack"
	"github.com/target/assessment-jobs/internal/observability/statsd"
	"github.com/target/assessment-jobs/internal/ports"
	"github.com/target/assessment-jobs/internal/service"
	"github.com/target/assessment-jobs/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Lifecycle     *service.LifecycleService
	Admin         *service.AdminService
	Sync          *service.SyncService
	Bulk          *service.BulkService
	Monitor       *service.MonitorService
	Refunds       *service.RefundService
	Finalizer     *service.Finalizer
	Notifier      *domainjob.DefaultNotifier
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Metrics         *metrics.Engine
	Prometheus      *metrics.Prometheus
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// Ledger overrides the Postgres credit ledger (e.g. a billing service client).
	Ledger ports.CreditLedger
}

// serviceRepositories groups data adapters backing service ports; no business rules here.
type serviceRepositories struct {
	Jobs    *data.JobRepo
	Results *data.ResultRepo
	Ledger  ports.CreditLedger
	// Atomic is set when the ledger shares the job database.
	Atomic  core.AtomicRefunder
	Cache   core.StatsCache
	Events  ports.EventPublisher
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig, jobURLPrefix string) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	engine := &metrics.Engine{}
	var prom *metrics.Prometheus
	if cfg.Metrics.PrometheusEnabled {
		prom = metrics.NewPrometheus()
		engine.Prom = prom
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.StatsdPrefix,
			GlobalTags: cfg.Metrics.StatsdTags,
			Logger:     obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
			engine.Sink = client
		}
	}

	return ObservabilityContainer{
		Metrics:         engine,
		Prometheus:      prom,
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications, jobURLPrefix),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildRepositories(deps *ServiceDeps, logger *slog.Logger) *serviceRepositories {
	cfg := deps.Config
	repos := &serviceRepositories{
		Jobs: data.NewJobRepo(deps.DB, data.RepoConfig{
			ClaimLease: cfg.Engine.ClaimLease,
			Logger:     logger.With("component", "job_repo"),
		}),
		Results: data.NewResultRepo(deps.DB, nil),
		Ledger:  deps.Ledger,
	}
	if repos.Ledger == nil {
		repos.Ledger = data.NewCreditLedgerRepo(deps.DB)
		repos.Atomic = repos.Jobs
	}
	if deps.RedisClient != nil {
		repos.Cache = data.NewRedisStatsCache(deps.RedisClient, "")
	}
	repos.Events = buildEventPublisher(deps.RedisClient, cfg.Events, logger)
	return repos
}

// buildEventPublisher prefers Redis pub/sub and falls back to the log when Redis is not configured.
//
//nolint:ireturn // the fan-out and log publishers share the port.
func buildEventPublisher(client redis.UniversalClient, cfg config.EventsConfig, logger *slog.Logger) ports.EventPublisher {
	if client == nil {
		return events.NewLogPublisher(logger)
	}
	return events.NewFanout(events.Registration{
		Name:      "redis",
		Publisher: redisadapter.NewEventPublisherWithChannel(client, cfg.Channel),
	})
}

// NewServices creates all application services with their dependencies.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	obs := buildObservability(logger, cfg.Observability, cfg.HTTP.JobURLPrefix())
	repos := buildRepositories(deps, logger)

	refunds, err := service.NewRefundService(service.RefundServiceOptions{
		Marker:  repos.Jobs,
		Ledger:  repos.Ledger,
		Atomic:  repos.Atomic,
		Logger:  logger,
		Metrics: obs.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create refund service: %w", err)
	}

	finalizer := service.NewFinalizer(service.FinalizerOptions{
		Results:         repos.Results,
		Refunds:         refunds,
		Events:          repos.Events,
		FailureNotifier: obs.FailureNotifier,
		Logger:          logger,
		Metrics:         obs.Metrics,
	})

	syncer, err := service.NewSyncService(service.SyncServiceOptions{
		Jobs:      repos.Jobs,
		Results:   repos.Results,
		Finalizer: finalizer,
		Logger:    logger,
		Metrics:   obs.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create sync service: %w", err)
	}

	policy, err := domainjob.NewRetryPolicy(cfg.Engine.RetryBaseBackoff, cfg.Engine.DefaultMaxRetries)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create retry policy: %w", err)
	}

	lifecycle, err := service.NewLifecycleService(service.LifecycleServiceOptions{
		Jobs:      repos.Jobs,
		Finalizer: finalizer,
		Syncer:    syncer,
		Policy:    policy,
		Logger:    logger,
		Metrics:   obs.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create lifecycle service: %w", err)
	}

	bulk, err := service.NewBulkService(service.BulkServiceOptions{
		Jobs:      repos.Jobs,
		Finalizer: finalizer,
		BatchSize: cfg.Engine.BulkMaxBatch,
		Logger:    logger,
		Metrics:   obs.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create bulk service: %w", err)
	}

	monitor, err := service.NewMonitorService(service.MonitorServiceOptions{
		Repo:      repos.Jobs,
		Config:    cfg.Monitor,
		Finalizer: finalizer,
		Logger:    logger,
		Metrics:   obs.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create monitor service: %w", err)
	}

	admin, err := service.NewAdminService(service.AdminServiceOptions{
		Jobs:     repos.Jobs,
		Results:  repos.Results,
		Audit:    repos.Jobs,
		Monitor:  monitor,
		Bulk:     bulk,
		Syncer:   syncer,
		Cache:    repos.Cache,
		CacheTTL: cfg.Engine.StatsCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create admin service: %w", err)
	}

	notifier, err := domainjob.NewNotifier(domainjob.NotifierOptions{
		Waiter:     lifecycle,
		WaitWindow: cfg.Worker.PollInterval,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job notifier: %w", err)
	}

	return ServiceContainer{
		Lifecycle:     lifecycle,
		Admin:         admin,
		Sync:          syncer,
		Bulk:          bulk,
		Monitor:       monitor,
		Refunds:       refunds,
		Finalizer:     finalizer,
		Notifier:      notifier,
		Observability: obs,
	}, nil
}

func buildFailureNotifier(
	logger *slog.Logger,
	cfg config.ObservabilityNotificationsConfig,
	jobURLPrefix string,
) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: jobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:  baseLogger.With("component", "failure_notifier"),
		Sinks:   sinks,
		Timeout: cfg.Timeout,
	})
}
