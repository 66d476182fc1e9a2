// Package metrics exposes orchestrator counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for executions_total.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeLaunched = "launched"
)

// Metrics holds the collectors on a private registry so tests can create
// as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	running       prometheus.Gauge
	queued        prometheus.Gauge
	scripts       prometheus.Gauge
	executions    *prometheus.CounterVec
	duration      prometheus.Histogram
	queueWait     prometheus.Histogram
	historyErrors prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scriptsrunner_running_scripts",
			Help: "Number of scripts currently running in the background",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scriptsrunner_queued_scripts",
			Help: "Number of scripts waiting for a concurrency slot",
		}),
		scripts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scriptsrunner_known_scripts",
			Help: "Number of scripts found by the last folder scan",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptsrunner_executions_total",
			Help: "Total script executions by mode and outcome",
		}, []string{"mode", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scriptsrunner_execution_duration_seconds",
			Help:    "Wall-clock duration of background executions",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms to ~27m
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scriptsrunner_queue_wait_seconds",
			Help:    "Time queued scripts waited for a slot",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
		}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptsrunner_history_write_errors_total",
			Help: "Execution results that could not be written to history",
		}),
	}
	m.registry.MustRegister(
		m.running, m.queued, m.scripts, m.executions, m.duration, m.queueWait, m.historyErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetQueue records the current running and queued counts.
func (m *Metrics) SetQueue(running, queued int) {
	m.running.Set(float64(running))
	m.queued.Set(float64(queued))
}

func (m *Metrics) SetScripts(n int) {
	m.scripts.Set(float64(n))
}

// ObserveExecution counts one finished execution.
func (m *Metrics) ObserveExecution(mode, outcome string, d time.Duration) {
	m.executions.WithLabelValues(mode, outcome).Inc()
	if d > 0 {
		m.duration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveQueueWait(d time.Duration) {
	m.queueWait.Observe(d.Seconds())
}

func (m *Metrics) HistoryWriteFailed() {
	m.historyErrors.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
