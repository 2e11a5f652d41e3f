// Package scoring talks to the scoring-model service that grades a finished
// session. The model is a black box: this package owns only the request and
// result contract, per-call timeouts, retries and failure classification.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// Request is everything the model sees for one session.
type Request struct {
	SessionID          string                     `json:"session_id"`
	Transcript         []transcript.Utterance     `json:"transcript"`
	InstantMetrics     session.InstantMetrics     `json:"instant_metrics"`
	KeyMoments         []session.KeyMoment        `json:"key_moments"`
	HistoricalAverages session.HistoricalAverages `json:"historical_averages"`
}

// DimensionScores are the model's per-dimension scores.
type DimensionScores struct {
	Rapport           int `json:"rapport" jsonschema:"minimum=0,maximum=100"`
	Discovery         int `json:"discovery" jsonschema:"minimum=0,maximum=100"`
	ObjectionHandling int `json:"objection_handling" jsonschema:"minimum=0,maximum=100"`
	Closing           int `json:"closing" jsonschema:"minimum=0,maximum=100"`
}

// Result is the model's structured verdict.
type Result struct {
	SaleClosed         bool                      `json:"sale_closed" jsonschema:"description=Whether the counterpart agreed to buy"`
	TotalContractValue float64                   `json:"total_contract_value" jsonschema:"description=Total contract value in dollars; 0 if unknown"`
	OverallScore       int                       `json:"overall_score" jsonschema:"minimum=0,maximum=100"`
	Scores             DimensionScores           `json:"scores"`
	NarrativeFeedback  string                    `json:"narrative_feedback"`
	Strengths          []string                  `json:"strengths"`
	Improvements       []string                  `json:"improvements"`
	ObjectionAnalysis  []session.ObjectionReview `json:"objection_analysis"`
	CoachingPlan       []session.CoachingItem    `json:"coaching_plan"`
	Product            string                    `json:"product"`
	Term               string                    `json:"term"`
}

// Scorer grades a session.
type Scorer interface {
	Name() string
	Score(ctx context.Context, req Request) (*Result, error)
}

// decodeModelJSON unmarshals model output, falling back to the outermost
// JSON object when the output carries surrounding prose.
func decodeModelJSON(output string, v any) error {
	s := strings.TrimSpace(output)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON (len=%d): %w", end+1-start, err)
	}
	return nil
}

func coachingItem(focus, action string) session.CoachingItem {
	return session.CoachingItem{Focus: focus, Action: action}
}
