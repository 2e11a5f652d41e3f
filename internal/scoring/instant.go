package scoring

import (
	"context"
	"fmt"
)

// InstantScorer derives a Result from the instant metrics alone. It lets the
// pipeline run end to end without a model service.
type InstantScorer struct{}

// NewInstantScorer creates an InstantScorer.
func NewInstantScorer() *InstantScorer { return &InstantScorer{} }

// Name implements Scorer.
func (InstantScorer) Name() string { return "instant" }

// Score implements Scorer.
func (InstantScorer) Score(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := req.InstantMetrics
	p := m.PreliminaryScores

	out := &Result{
		SaleClosed:   m.PeakCommitment == "buying" && m.ObjectionsOutstanding == 0,
		OverallScore: p.Overall,
		Scores: DimensionScores{
			Rapport:           p.Rapport,
			Discovery:         p.Discovery,
			ObjectionHandling: p.ObjectionHandling,
			Closing:           p.Closing,
		},
		ObjectionAnalysis: m.Objections,
	}

	out.NarrativeFeedback = fmt.Sprintf(
		"%d utterances at %.0f words per minute; you spoke %.0f%% of the words. %d of %d objections handled, %d close attempt(s).",
		m.Utterances, m.PaceWPM, m.RepTalkShare*100, m.ObjectionsHandled, m.ObjectionCount, m.CloseAttempts,
	)
	if m.Questions.Discovery+m.Questions.Qualifying > m.Questions.Closed {
		out.Strengths = append(out.Strengths, "Asked more open questions than closed ones")
	} else {
		out.Improvements = append(out.Improvements, "Ask more open discovery questions")
	}
	if m.ObjectionsOutstanding > 0 {
		out.Improvements = append(out.Improvements, "Resolve open objections before closing")
	} else if m.ObjectionCount > 0 {
		out.Strengths = append(out.Strengths, "Addressed every objection raised")
	}
	if m.CloseAttempts == 0 {
		out.Improvements = append(out.Improvements, "Ask for the sale")
		out.CoachingPlan = append(out.CoachingPlan, coachingItem("closing", "Practice an assumptive close after the first strong buying signal"))
	}
	if m.RepTalkShare > 0.65 {
		out.CoachingPlan = append(out.CoachingPlan, coachingItem("listening", "Pause after each benefit and ask a question"))
	}
	return out, nil
}

var _ Scorer = InstantScorer{}
