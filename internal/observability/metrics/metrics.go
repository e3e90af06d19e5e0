// Package metrics exposes the core's task lifecycle and queue depth
// measurements as Prometheus collectors (spec's ambient observability
// stack, carried regardless of the spec's metrics-layer Non-goals).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the narrow interface the scheduler/worker/reaper packages
// depend on, so they never import prometheus directly.
type Recorder interface {
	TaskFinished(job, status, errorClass string)
	TaskDuration(job string, seconds float64)
	QueueDepth(backend string, depth int)
	ReaperRevoked(reason string)
}

// Metrics is the default Recorder, backed by a dedicated prometheus
// registry (never the global one, so tests can construct isolated instances).
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	reaperRevoked *prometheus.CounterVec
}

// New constructs a Metrics recorder and registers its collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayq",
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal state, by job and status.",
		}, []string{"job", "status", "error_class"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayq",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of a job callable invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayq",
			Name:      "queue_depth",
			Help:      "Approximate number of queued, undelivered task ids.",
		}, []string{"backend"}),
		reaperRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayq",
			Name:      "reaper_revoked_total",
			Help:      "Tasks revoked by the reaper, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.tasksTotal, m.taskDuration, m.queueDepth, m.reaperRevoked)
	return m
}

// TaskFinished records one terminal-state transition.
func (m *Metrics) TaskFinished(job, status, errorClass string) {
	m.tasksTotal.WithLabelValues(job, status, errorClass).Inc()
}

// TaskDuration records one job callable invocation's wall-clock duration.
func (m *Metrics) TaskDuration(job string, seconds float64) {
	m.taskDuration.WithLabelValues(job).Observe(seconds)
}

// QueueDepth sets the current approximate queue depth for backend.
func (m *Metrics) QueueDepth(backend string, depth int) {
	m.queueDepth.WithLabelValues(backend).Set(float64(depth))
}

// ReaperRevoked records one reaper-driven revocation.
func (m *Metrics) ReaperRevoked(reason string) {
	m.reaperRevoked.WithLabelValues(reason).Inc()
}

// Handler serves this Metrics instance's collectors in the Prometheus
// exposition format, bound at config.ObservabilityConfig.MetricsAddr+"/metrics".
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NoopRecorder discards every measurement; the zero-config default.
type NoopRecorder struct{}

func (NoopRecorder) TaskFinished(string, string, string) {}
func (NoopRecorder) TaskDuration(string, float64)        {}
func (NoopRecorder) QueueDepth(string, int)              {}
func (NoopRecorder) ReaperRevoked(string)                {}

var _ Recorder = (*Metrics)(nil)
var _ Recorder = NoopRecorder{}
