package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the deletion orchestrator.
type Metrics struct {
	RunsStarted          prometheus.Counter
	RunsCompleted        prometheus.Counter
	RunsFailed           prometheus.Counter
	RunsEmergencyStopped prometheus.Counter

	StepDuration prometheus.ObserverVec
	StepFailures *prometheus.CounterVec

	RunDuration  prometheus.Histogram
	PollDuration prometheus.Histogram

	QueueDepth prometheus.Gauge
}

// NewMetrics registers the orchestrator metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the orchestrator metrics on reg. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffbridge_deletion_runs_started_total",
			Help: "Total number of deletion runs picked up by the orchestrator",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffbridge_deletion_runs_completed_total",
			Help: "Total number of deletion runs that finished successfully",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffbridge_deletion_runs_failed_total",
			Help: "Total number of deletion runs aborted by a critical step failure",
		}),
		RunsEmergencyStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffbridge_deletion_runs_emergency_stopped_total",
			Help: "Total number of deletion runs halted by an emergency stop",
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "staffbridge_deletion_step_duration_seconds",
			Help:    "Time taken by each deletion step",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),
		StepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "staffbridge_deletion_step_failures_total",
			Help: "Total number of step failures, critical and non-critical",
		}, []string{"step"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "staffbridge_deletion_run_duration_seconds",
			Help:    "End-to-end time of one deletion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "staffbridge_deletion_poll_duration_seconds",
			Help:    "Time taken for each queue poll cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "staffbridge_deletion_queue_depth",
			Help: "Number of queue items waiting for or undergoing deletion",
		}),
	}
}

func (m *Metrics) observeStep(name string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(name).Observe(d.Seconds())
	if failed {
		m.StepFailures.WithLabelValues(name).Inc()
	}
}
