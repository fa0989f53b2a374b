package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for trajectory runs.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	TurnsTotal           *prometheus.CounterVec
	SelectionsTotal      *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	ExternalCallDuration *prometheus.HistogramVec
}

// NewMetrics returns the process-wide metrics, registering them on the
// default registry the first time.
//
// Metrics:
//   - convsim_orchestrator_runs_total{reason} - runs by stop reason, "error" for aborted runs
//   - convsim_orchestrator_turns_total{mode} - turns executed
//   - convsim_orchestrator_selections_total{method} - step selections by method
//   - convsim_orchestrator_run_duration_seconds - wall time of a run
//   - convsim_orchestrator_external_call_duration_seconds{call} - generate, agent, select
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "convsim",
				Subsystem: "orchestrator",
				Name:      "runs_total",
				Help:      "Total number of trajectory runs by stop reason",
			},
			[]string{"reason"},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "convsim",
				Subsystem: "orchestrator",
				Name:      "turns_total",
				Help:      "Total number of turns executed",
			},
			[]string{"mode"},
		),
		SelectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "convsim",
				Subsystem: "orchestrator",
				Name:      "selections_total",
				Help:      "Total number of step selections by method",
			},
			[]string{"method"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "convsim",
				Subsystem: "orchestrator",
				Name:      "run_duration_seconds",
				Help:      "Duration of trajectory runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		ExternalCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "convsim",
				Subsystem: "orchestrator",
				Name:      "external_call_duration_seconds",
				Help:      "Duration of language-model and agent calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"call"},
		),
	}
}

// observe records the duration of an external call.
func (m *Metrics) observe(call Phase, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExternalCallDuration.WithLabelValues(string(call)).Observe(elapsed.Seconds())
}
