package analyzer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for live analysis.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	DetectorPanicsTotal *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// NewMetrics registers the analyzer metrics once per process.
//
// Metrics:
//   - analyzer_feedback_events_total{kind,severity}
//   - analyzer_detector_panics_total{detector}
//   - analyzer_active_sessions
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			EventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "analyzer_feedback_events_total",
					Help: "Total number of feedback events emitted by live analysis",
				},
				[]string{"kind", "severity"},
			),
			DetectorPanicsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "analyzer_detector_panics_total",
					Help: "Total number of recovered detector panics",
				},
				[]string{"detector"},
			),
			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "analyzer_active_sessions",
					Help: "Number of sessions with a live analyzer",
				},
			),
		}
	})
	return globalMetrics
}
