package grading

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the grading pipeline.
type Metrics struct {
	PhaseTotal        *prometheus.CounterVec
	PhaseDuration     *prometheus.HistogramVec
	FallbackOverrides prometheus.Counter
	Adjustments       *prometheus.CounterVec
}

// NewMetrics registers the grading metrics once per process.
//
// Metrics:
//   - grading_phase_total{phase,status}
//   - grading_phase_duration_seconds{phase}
//   - grading_fallback_overrides_total
//   - grading_adjustments_total{field}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PhaseTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grading_phase_total",
					Help: "Total number of grading phase runs by outcome",
				},
				[]string{"phase", "status"},
			),
			PhaseDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "grading_phase_duration_seconds",
					Help:    "Duration of grading phases",
					Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
				},
				[]string{"phase"},
			),
			FallbackOverrides: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "grading_fallback_overrides_total",
					Help: "Total number of sales marked closed by transcript heuristics",
				},
			),
			Adjustments: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "grading_adjustments_total",
					Help: "Total number of automated corrections of model output",
				},
				[]string{"field"},
			),
		}
	})
	return globalMetrics
}
