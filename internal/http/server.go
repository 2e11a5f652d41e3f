// Package http provides the dealcoach HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/fyrsmithlabs/dealcoach/internal/logging"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// Grader starts grading runs.
type Grader interface {
	StartGrading(ctx context.Context, sessionID string) (*session.Record, error)
}

// Streamer subscribes to the live events of a session.
type Streamer interface {
	Subscribe(sessionID string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// Deps are the components the API serves. Events and Metrics are optional.
type Deps struct {
	Grader      Grader
	Sessions    session.Store
	Transcripts transcript.Store
	Registry    *analyzer.Registry
	Events      Streamer
	Metrics     *HTTPMetrics
}

// Server provides HTTP endpoints for dealcoach.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case deps.Grader == nil:
		return nil, fmt.Errorf("grader cannot be nil")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session store cannot be nil")
	case deps.Transcripts == nil:
		return nil, fmt.Errorf("transcript store cannot be nil")
	case deps.Registry == nil:
		return nil, fmt.Errorf("analyzer registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if deps.Metrics != nil {
		e.Use(deps.Metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			if id := c.Param("sessionId"); id != "" {
				ctx = logging.WithSessionID(ctx, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// streamRoute is the route of the session event stream.
const streamRoute = "/session/:sessionId/stream"

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/grade/:sessionId", s.handleGrade)

	sess := s.echo.Group("/session/:sessionId")
	sess.GET("", s.handleGetSession)
	sess.POST("/utterances", s.handleUtterances)
	sess.GET("/feedback", s.handleFeedback)
	sess.POST("/feedback-submitted", s.handleFeedbackSubmitted)
	sess.GET("/stream", s.handleStream)
}

// Echo exposes the router for additional routes such as /metrics.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleGrade runs the synchronous grading phases and answers before deep
// analysis finishes. The live analyzer of a graded session is released.
func (s *Server) handleGrade(c echo.Context) error {
	id := c.Param("sessionId")
	ctx := c.Request().Context()
	rec, err := s.deps.Grader.StartGrading(ctx, id)
	if err != nil {
		if faults.KindOf(err) == faults.KindPreconditionNotMet {
			s.deps.Metrics.RecordGrade(ctx, gradeOutcomeNotReady)
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		s.deps.Metrics.RecordGrade(ctx, gradeOutcomeError)
		s.logger.Error("grading failed to start", zap.String("session.id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "grading failed")
	}
	s.deps.Metrics.RecordGrade(ctx, string(rec.Status))
	s.deps.Registry.End(id)
	return c.JSON(http.StatusAccepted, GradeResponse{
		SessionID: rec.SessionID,
		Status:    rec.Status,
		Phases:    rec.Phases[:],
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	rec, err := s.deps.Sessions.Get(c.Request().Context(), c.Param("sessionId"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.logger.Error("failed to load session", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
	}
	return c.JSON(http.StatusOK, rec)
}

// handleUtterances stores new utterances and runs the live analyzer over
// the ones not seen before.
func (s *Server) handleUtterances(c echo.Context) error {
	id := c.Param("sessionId")
	var req UtterancesRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid utterances request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Utterances) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "utterances field is required")
	}

	ctx := c.Request().Context()
	appended, err := s.deps.Transcripts.Append(ctx, id, req.Utterances...)
	if errors.Is(err, transcript.ErrInvalidUtterance) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error("failed to append utterances", zap.String("session.id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store utterances")
	}

	events := s.deps.Registry.Ingest(ctx, id, appended)
	if events == nil {
		events = []analyzer.FeedbackEvent{}
	}
	return c.JSON(http.StatusOK, UtterancesResponse{
		Accepted: len(appended),
		Events:   events,
	})
}

func (s *Server) handleFeedback(c echo.Context) error {
	id := c.Param("sessionId")
	events := s.deps.Registry.Feed(id)
	if events == nil {
		events = []analyzer.FeedbackEvent{}
	}
	return c.JSON(http.StatusOK, FeedbackResponse{SessionID: id, Events: events})
}

func (s *Server) handleFeedbackSubmitted(c echo.Context) error {
	err := s.deps.Sessions.MarkFeedbackSubmitted(c.Request().Context(), c.Param("sessionId"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.logger.Error("failed to mark feedback submitted", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update session")
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
