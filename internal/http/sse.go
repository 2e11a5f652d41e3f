package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/events"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
)

const heartbeatInterval = 30 * time.Second

// handleStream streams the live events of a session via Server-Sent
// Events.
//
// SSE event types:
//   - feedback: live coaching events for an utterance batch
//   - phase: a grading phase transition
//
// The stream ends when grading reaches a terminal phase state or the
// client disconnects.
//
// Example:
//
//	GET /session/{sessionId}/stream
//
//	event: phase
//	data: {"session_id":"s1","state":{"phase":"instant","status":"complete"}}
func (s *Server) handleStream(c echo.Context) error {
	if s.deps.Events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is disabled")
	}
	id := c.Param("sessionId")

	msgChan := make(chan *nats.Msg, 64)
	sub, err := s.deps.Events.Subscribe(id, msgChan)
	if err != nil {
		s.logger.Error("failed to subscribe", zap.String("session.id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to subscribe")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	defer s.deps.Metrics.StreamOpened(c.Request().Context())()

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			eventType := events.EventType(msg.Subject)
			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

			if eventType == events.TypePhase && gradingEnded(msg.Data) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// gradingEnded reports whether a phase message ends the run: deep analysis
// settled, or an earlier phase failed and aborted it.
func gradingEnded(data []byte) bool {
	var msg events.PhaseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	switch msg.State.Status {
	case session.PhaseFailed:
		return true
	case session.PhaseComplete:
		return msg.State.Phase == session.PhaseDeepAnalysis
	default:
		return false
	}
}
