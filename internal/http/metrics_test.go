package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

// int64Points sums the data points of the named int64 sum by one attribute.
func int64Points(t *testing.T, reader *metric.ManualReader, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/session/:sessionId", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"session_id": c.Param("sessionId")})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, target := range []string{"/session/a", "/session/b", "/health"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "dealcoach.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				endpoints := map[string]int64{}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					endpoints[v.AsString()] += dp.Value
				}
				// session ids never become label values
				assert.Equal(t, map[string]int64{"/session/:sessionId": 2, "/health": 1}, endpoints)
			case "dealcoach.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var total uint64
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(3), total)
			}
		}
	}

	assert.True(t, found["dealcoach.http.requests_total"], "requests counter not found")
	assert.True(t, found["dealcoach.http.request_duration_seconds"], "duration histogram not found")
	assert.True(t, found["dealcoach.http.response_size_bytes"], "response size histogram not found")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/session/:sessionId", "/session/:sessionId"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input))
	}
}

func TestHTTPMetrics_GradeOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)

	grader := &mockGrader{}
	grading := session.NewRecord("s1", callStart)
	grading.Status = session.StatusGrading
	grader.On("StartGrading", mock.Anything, "s1").Return(grading, nil)
	grader.On("StartGrading", mock.Anything, "s2").
		Return(nil, faults.New(faults.KindPreconditionNotMet, "grading.wait_transcript", errors.New("transcript not ready")))
	grader.On("StartGrading", mock.Anything, "s3").Return(nil, errors.New("disk full"))

	server, err := NewServer(Deps{
		Grader:      grader,
		Sessions:    session.NewMemoryStore(),
		Transcripts: transcript.NewMemoryStore(),
		Registry:    analyzer.NewRegistry(analyzer.RegistryConfig{Analyzer: analyzer.DefaultConfig()}, nil, nil, nil),
		Metrics:     m,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	for _, id := range []string{"s1", "s2", "s3", "s1"} {
		req := httptest.NewRequest(http.MethodPost, "/grade/"+id, nil)
		server.Echo().ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, map[string]int64{
		"grading":              2,
		"transcript_not_ready": 1,
		"error":                1,
	}, int64Points(t, reader, "dealcoach.http.grade_requests_total", "outcome"))
}

func TestHTTPMetrics_StreamOpened(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	closeFirst := m.StreamOpened(ctx)
	closeSecond := m.StreamOpened(ctx)
	assert.Equal(t, map[string]int64{"": 2}, int64Points(t, reader, "dealcoach.http.open_streams", "none"))

	closeFirst()
	closeSecond()
	assert.Equal(t, map[string]int64{"": 0}, int64Points(t, reader, "dealcoach.http.open_streams", "none"))
}

func TestHTTPMetrics_NilRecordsNothing(t *testing.T) {
	var m *HTTPMetrics
	assert.NotPanics(t, func() {
		m.RecordGrade(context.Background(), "grading")
		m.StreamOpened(context.Background())()
	})
}
