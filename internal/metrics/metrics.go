// Package metrics exposes Prometheus collectors for the collection service.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the collectors for run lifecycle and source fetch outcomes.
// A nil *Recorder is safe to call, so wiring can omit metrics entirely.
type Recorder struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	sourcesFetched *prometheus.CounterVec
	contentMatched prometheus.Counter
}

// NewRecorder registers the collectors against the provided registry (or the
// default registerer when nil).
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "focus_runs_started_total",
			Help: "Total collection runs claimed by workers.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "focus_runs_completed_total",
			Help: "Total runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "focus_runs_running",
			Help: "Current number of running collection runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "focus_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		sourcesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "focus_sources_fetched_total",
			Help: "Source fetch completions partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		contentMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "focus_content_matched_total",
			Help: "Matched content records persisted.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		r.runsStarted,
		r.runsCompleted,
		r.runsRunning,
		r.runDuration,
		r.sourcesFetched,
		r.contentMatched,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// RunStarted marks a run claimed and running.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	r.runsStarted.Inc()
	r.runsRunning.Inc()
}

// RunFinished records a terminal run outcome.
func (r *Recorder) RunFinished(result string, dur time.Duration) {
	if r == nil {
		return
	}
	r.runsRunning.Dec()
	r.runsCompleted.WithLabelValues(result).Inc()
	if dur > 0 {
		r.runDuration.WithLabelValues(result).Observe(dur.Seconds())
	}
}

// SourceFetched records one source completion by kind and outcome.
func (r *Recorder) SourceFetched(kind, outcome string) {
	if r == nil {
		return
	}
	r.sourcesFetched.WithLabelValues(kind, outcome).Inc()
}

// ContentMatched adds persisted record counts.
func (r *Recorder) ContentMatched(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.contentMatched.Add(float64(n))
}
