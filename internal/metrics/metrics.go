// Package metrics records phase, poll and build counters for one orchestration run.
// The registry is private to the run and can be exported as a node_exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bgrelease"

// Recorder owns a prometheus registry for a single run.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	phaseDuration *prometheus.HistogramVec
	pollAttempts  *prometheus.CounterVec
	pollOutcomes  *prometheus.CounterVec
	builds        *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each orchestration phase.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"phase", "outcome"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Unresolved readiness/completion checks per wait point.",
		}, []string{"task"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Resolved waits by outcome (ready, timeout, error, cancelled).",
		}, []string{"task", "outcome"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Finished CI builds by release color and status.",
		}, []string{"color", "status"}),
	}
	r.registry.MustRegister(r.phaseDuration, r.pollAttempts, r.pollOutcomes, r.builds)
	return r
}

// ObservePhase records how long a phase took and how it ended.
func (r *Recorder) ObservePhase(phase, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.phaseDuration.WithLabelValues(phase, outcome).Observe(d.Seconds())
}

// PollAttempt counts one unresolved check of task.
func (r *Recorder) PollAttempt(task string) {
	if r == nil {
		return
	}
	r.pollAttempts.WithLabelValues(task).Inc()
}

// PollOutcome counts how a wait on task ended.
func (r *Recorder) PollOutcome(task, outcome string) {
	if r == nil {
		return
	}
	r.pollOutcomes.WithLabelValues(task, outcome).Inc()
}

// BuildFinished counts a terminal build.
func (r *Recorder) BuildFinished(color, status string) {
	if r == nil {
		return
	}
	r.builds.WithLabelValues(color, status).Inc()
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteTextfile writes all metrics in the text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Gatherer())
}
