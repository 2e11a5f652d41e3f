package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/dealcoach/internal/http"

// Grade request outcomes besides the session status a started run reports.
const (
	gradeOutcomeNotReady = "transcript_not_ready"
	gradeOutcomeError    = "error"
)

// HTTPMetrics holds the API's OTEL instruments. A nil *HTTPMetrics records
// nothing.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
	gradeRequests  metric.Int64Counter
	openStreams    metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"dealcoach.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"dealcoach.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status code. POST /grade includes the synchronous grading phases."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"dealcoach.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status code"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"dealcoach.http.active_requests",
		metric.WithDescription("HTTP requests in progress, excluding open event streams"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}

	m.gradeRequests, err = m.meter.Int64Counter(
		"dealcoach.http.grade_requests_total",
		metric.WithDescription("Grade requests by outcome: the session status returned, transcript_not_ready or error"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create grade requests counter", zap.Error(err))
	}

	m.openStreams, err = m.meter.Int64UpDownCounter(
		"dealcoach.http.open_streams",
		metric.WithDescription("Session event streams currently connected"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		m.logger.Warn("failed to create open streams gauge", zap.Error(err))
	}
}

// RecordGrade counts one grade request.
func (m *HTTPMetrics) RecordGrade(ctx context.Context, outcome string) {
	if m == nil || m.gradeRequests == nil {
		return
	}
	m.gradeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// StreamOpened counts an open event stream and returns the func that
// uncounts it.
func (m *HTTPMetrics) StreamOpened(ctx context.Context) (closed func()) {
	if m == nil || m.openStreams == nil {
		return func() {}
	}
	m.openStreams.Add(ctx, 1)
	return func() { m.openStreams.Add(context.WithoutCancel(ctx), -1) }
}

// MetricsMiddleware returns an Echo middleware that records request count,
// latency and response size per route.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()
			route := normalizePath(c.Path())
			streaming := route == streamRoute

			if m.activeRequests != nil && !streaming {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", route),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			if m.activeRequests != nil && !streaming {
				m.activeRequests.Add(ctx, -1)
			}

			return err
		}
	}
}

// normalizePath maps the matched route to a metric label. Echo reports the
// route pattern (/session/:sessionId), so session ids never become labels.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
