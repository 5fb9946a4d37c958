package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobengine"

// Labels
const (
	transitionLabel = "transition"
	resultLabel     = "result"
	bucketLabel     = "bucket"
	kindLabel       = "kind"
	actionLabel     = "action"
)

// Prometheus holds the engine's Prometheus collectors on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	stuckJobs       *prometheus.GaugeVec
	sweptJobs       *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepsSkipped   prometheus.Counter
	refunds         *prometheus.CounterVec
	bulkCancelled   *prometheus.CounterVec
	syncActions     *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

// NewPrometheus creates and registers the engine collectors plus the Go and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "number of job state transitions attempted, by transition and result",
		}, []string{transitionLabel, resultLabel}),
		stuckJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stuck_jobs",
			Help:      "number of stuck jobs observed at the last sweep, by age bucket",
		}, []string{bucketLabel}),
		sweptJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_jobs_total",
			Help:      "number of jobs forced to failed by the stuck-job monitor",
		}, []string{kindLabel}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "duration of stuck-job sweeps",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sweepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_skipped_total",
			Help:      "number of sweeps skipped because another monitor held the lock",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "number of credit refunds attempted, by result",
		}, []string{resultLabel}),
		bulkCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_cancel_ids_total",
			Help:      "number of ids processed by bulk cancel, by result",
		}, []string{resultLabel}),
		syncActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_actions_total",
			Help:      "number of job/result consistency checks, by action taken",
		}, []string{actionLabel}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_events_total",
			Help:      "number of terminal job events published, by result",
		}, []string{resultLabel}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.transitions,
		p.stuckJobs,
		p.sweptJobs,
		p.sweepDuration,
		p.sweepsSkipped,
		p.refunds,
		p.bulkCancelled,
		p.syncActions,
		p.eventsPublished,
	)
	return p
}

// Registry exposes the underlying registry (tests gather from it).
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) observeTransition(transition, result string) {
	p.transitions.With(prometheus.Labels{transitionLabel: transition, resultLabel: result}).Inc()
}

func (p *Prometheus) setStuck(bucket string, count int) {
	p.stuckJobs.With(prometheus.Labels{bucketLabel: bucket}).Set(float64(count))
}

func (p *Prometheus) addSwept(kind string, count int) {
	if count > 0 {
		p.sweptJobs.With(prometheus.Labels{kindLabel: kind}).Add(float64(count))
	}
}

func (p *Prometheus) observeSweep(d time.Duration, locked bool) {
	if !locked {
		p.sweepsSkipped.Inc()
		return
	}
	p.sweepDuration.Observe(d.Seconds())
}
