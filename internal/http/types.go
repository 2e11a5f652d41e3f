package http

import (
	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// GradeResponse is the response body for POST /grade/:sessionId.
type GradeResponse struct {
	SessionID string               `json:"session_id"`
	Status    session.Status       `json:"status"`
	Phases    []session.PhaseState `json:"phases"`
}

// UtterancesRequest is the request body for POST /session/:sessionId/utterances.
type UtterancesRequest struct {
	Utterances []transcript.Utterance `json:"utterances"`
}

// UtterancesResponse reports what was stored and the events it raised.
type UtterancesResponse struct {
	Accepted int                      `json:"accepted"`
	Events   []analyzer.FeedbackEvent `json:"events"`
}

// FeedbackResponse is the response body for GET /session/:sessionId/feedback.
type FeedbackResponse struct {
	SessionID string                   `json:"session_id"`
	Events    []analyzer.FeedbackEvent `json:"events"`
}
