package metrics

import (
	"time"

	"github.com/relayq/relayq/internal/observability/statsd"
)

// StatsDRecorder adapts a statsd.Sink to the Recorder interface, letting
// deployments that already run a StatsD collector reuse it instead of (or
// alongside) Prometheus scraping.
type StatsDRecorder struct {
	sink statsd.Sink
}

// NewStatsDRecorder wraps sink as a Recorder.
func NewStatsDRecorder(sink statsd.Sink) *StatsDRecorder {
	return &StatsDRecorder{sink: sink}
}

func (r *StatsDRecorder) TaskFinished(job, status, errorClass string) {
	r.sink.Count("tasks_total", 1, map[string]string{"job": job, "status": status, "error_class": errorClass})
}

func (r *StatsDRecorder) TaskDuration(job string, seconds float64) {
	r.sink.Timing("task_duration", time.Duration(seconds*float64(time.Second)), map[string]string{"job": job})
}

func (r *StatsDRecorder) QueueDepth(backend string, depth int) {
	r.sink.Gauge("queue_depth", float64(depth), map[string]string{"backend": backend})
}

func (r *StatsDRecorder) ReaperRevoked(reason string) {
	r.sink.Count("reaper_revoked_total", 1, map[string]string{"reason": reason})
}

var _ Recorder = (*StatsDRecorder)(nil)

// MultiRecorder fans every measurement out to each wrapped Recorder.
type MultiRecorder []Recorder

func (m MultiRecorder) TaskFinished(job, status, errorClass string) {
	for _, r := range m {
		r.TaskFinished(job, status, errorClass)
	}
}

func (m MultiRecorder) TaskDuration(job string, seconds float64) {
	for _, r := range m {
		r.TaskDuration(job, seconds)
	}
}

func (m MultiRecorder) QueueDepth(backend string, depth int) {
	for _, r := range m {
		r.QueueDepth(backend, depth)
	}
}

func (m MultiRecorder) ReaperRevoked(reason string) {
	for _, r := range m {
		r.ReaperRevoked(reason)
	}
}

var _ Recorder = MultiRecorder(nil)
