package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the admin and submission HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeMonitor runs the stuck job monitor.
	ServiceModeMonitor ServiceMode = "monitor"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeMonitor}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeMonitor:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker, monitor)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// PollInterval bounds how long an idle worker waits before claiming again.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`

	// ClaimBatch is n for each ClaimNext call.
	ClaimBatch int `env:"WORKER_CLAIM_BATCH" envDefault:"1"`

	// CancelPoll is how often a running handler's job is re-read for cancellation. Zero disables polling.
	CancelPoll time.Duration `env:"WORKER_CANCEL_POLL" envDefault:"0s"`

	// ExecutorURL is the inference endpoint each job payload is POSTed to.
	// Jobs are posted to ExecutorURL + "/" + job type.
	ExecutorURL string `env:"WORKER_EXECUTOR_URL"`

	// ExecutorTimeout bounds one executor call.
	ExecutorTimeout time.Duration `env:"WORKER_EXECUTOR_TIMEOUT" envDefault:"5m"`

	// JobTypes restricts which job types this worker handles. Empty means every known type.
	JobTypes []string `env:"WORKER_JOB_TYPES"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 5 * time.Second
	}
	if w.ClaimBatch < 1 {
		w.ClaimBatch = 1
	}
	if w.ClaimBatch > MaxBulkBatch {
		w.ClaimBatch = MaxBulkBatch
	}
	if w.CancelPoll < 0 {
		w.CancelPoll = 0
	}
	w.ExecutorURL = strings.TrimRight(strings.TrimSpace(w.ExecutorURL), "/")
	if w.ExecutorTimeout <= 0 {
		w.ExecutorTimeout = 5 * time.Minute
	}
}

// MonitorConfig contains stuck job monitor configuration.
type MonitorConfig struct {
	// Interval is the monitor tick interval.
	Interval time.Duration `env:"MONITOR_INTERVAL" envDefault:"2m"`

	// ProcessingTimeoutMinutes fails processing jobs that started longer ago than this.
	ProcessingTimeoutMinutes int `env:"PROCESSING_TIMEOUT_MINUTES" envDefault:"60"`

	// QueuedTimeoutHours fails queued jobs created longer ago than this.
	QueuedTimeoutHours int `env:"QUEUED_TIMEOUT_HOURS" envDefault:"24"`

	// BatchSize is the maximum number of rows moved per statement.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"MONITOR_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.Interval < 10*time.Second {
		m.Interval = 10 * time.Second
	}
	if m.ProcessingTimeoutMinutes < 1 {
		m.ProcessingTimeoutMinutes = 60
	}
	if m.QueuedTimeoutHours < 1 {
		m.QueuedTimeoutHours = 24
	}
	if m.BatchSize < 1 {
		m.BatchSize = 1
	}
	if m.BatchSize > 10000 {
		m.BatchSize = 10000
	}
}

// ProcessingTimeout returns the processing timeout as a duration.
func (m MonitorConfig) ProcessingTimeout() time.Duration {
	return time.Duration(m.ProcessingTimeoutMinutes) * time.Minute
}

// QueuedTimeout returns the queued timeout as a duration.
func (m MonitorConfig) QueuedTimeout() time.Duration {
	return time.Duration(m.QueuedTimeoutHours) * time.Hour
}
