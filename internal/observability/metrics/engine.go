package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/observability/statsd"
)

// Stuck bucket labels shared by both backends.
const (
	BucketProcessing1h  = "processing_1h"
	BucketProcessing30m = "processing_30m"
	BucketQueued24h     = "queued_24h"
)

// Engine fans engine events out to a StatsD sink and a Prometheus registry.
// A nil *Engine and nil fields are valid and discard everything.
type Engine struct {
	Sink statsd.Sink
	Prom *Prometheus
}

// Transition records one lifecycle edge attempt.
func (e *Engine) Transition(in JobMetric) {
	if e == nil {
		return
	}
	EmitJobLifecycle(e.Sink, in)
	if e.Prom != nil {
		e.Prom.observeTransition(in.Transition, in.Result)
	}
}

// Sweep records the outcome of one stuck-job sweep.
func (e *Engine) Sweep(r model.SweepReport) {
	if e == nil {
		return
	}
	buckets := map[string]int{
		BucketProcessing1h:  r.Buckets.Processing1h,
		BucketProcessing30m: r.Buckets.Processing30m,
		BucketQueued24h:     r.Buckets.Queued24h,
	}
	swept := map[string]int{
		"processing": r.TransitionedProcessing,
		"queued":     r.TransitionedQueued,
		"exhausted":  r.TransitionedExhausted,
	}

	if e.Sink != nil {
		for bucket, n := range buckets {
			e.Sink.Gauge("jobs.stuck", float64(n), map[string]string{"bucket": bucket})
		}
		for kind, n := range swept {
			if n > 0 {
				e.Sink.Count("jobs.swept", int64(n), map[string]string{"kind": kind})
			}
		}
		e.Sink.Timing("jobs.sweep.duration", r.Duration, map[string]string{"locked": strconv.FormatBool(r.LockAcquired)})
	}
	if e.Prom != nil {
		for bucket, n := range buckets {
			e.Prom.setStuck(bucket, n)
		}
		for kind, n := range swept {
			e.Prom.addSwept(kind, n)
		}
		e.Prom.observeSweep(r.Duration, r.LockAcquired)
	}
}

// Refund records a refund attempt: success, noop (already refunded or free) or error.
func (e *Engine) Refund(result string) {
	e.count("job.refund", resultLabel, result, func(p *Prometheus) *prometheus.CounterVec { return p.refunds })
}

// BulkCancel records per-id bulk cancel outcomes.
func (e *Engine) BulkCancel(successful, failed int) {
	if e == nil {
		return
	}
	if e.Sink != nil {
		e.Sink.Count("jobs.bulk_cancel", int64(successful), map[string]string{"result": ResultSuccess})
		e.Sink.Count("jobs.bulk_cancel", int64(failed), map[string]string{"result": ResultError})
	}
	if e.Prom != nil {
		e.Prom.bulkCancelled.WithLabelValues(ResultSuccess).Add(float64(successful))
		e.Prom.bulkCancelled.WithLabelValues(ResultError).Add(float64(failed))
	}
}

// SyncAction records what one consistency check did.
func (e *Engine) SyncAction(action model.SyncAction) {
	e.count("job.sync", actionLabel, string(action), func(p *Prometheus) *prometheus.CounterVec { return p.syncActions })
}

// EventPublished records a terminal event publish attempt.
func (e *Engine) EventPublished(result string) {
	e.count("job.event", resultLabel, result, func(p *Prometheus) *prometheus.CounterVec { return p.eventsPublished })
}

func (e *Engine) count(name, label, value string, vec func(*Prometheus) *prometheus.CounterVec) {
	if e == nil {
		return
	}
	if e.Sink != nil {
		e.Sink.Count(name, 1, map[string]string{label: value})
	}
	if e.Prom != nil {
		vec(e.Prom).WithLabelValues(value).Inc()
	}
}
