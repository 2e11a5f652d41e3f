package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidPhase is returned for a phase outside Phases.
	ErrInvalidPhase = errors.New("invalid phase")
)

// Outcome is the terminal result of a grading run.
type Outcome struct {
	Status  Status
	Partial bool
	Error   string
}

// Store persists session records. It is the only coordination point
// between the grading pipeline and its observers.
type Store interface {
	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// BeginGrading creates the record if needed and moves it to grading,
	// resetting phases and discarding any earlier grade and analytics. It
	// returns started=false with the current record when the session is
	// already grading or complete.
	BeginGrading(ctx context.Context, sessionID string) (rec *Record, started bool, err error)

	// UpdatePhase replaces the state of one phase.
	UpdatePhase(ctx context.Context, sessionID string, state PhaseState) error

	// Finish sets the terminal status of a grading run.
	Finish(ctx context.Context, sessionID string, outcome Outcome) error

	// SaveGrade writes the core grade fields.
	SaveGrade(ctx context.Context, sessionID string, grade Grade) error

	// SaveAnalytics writes the analytics blob.
	SaveAnalytics(ctx context.Context, sessionID string, analytics Analytics) error

	// MarkFeedbackSubmitted sets the feedback-submitted marker.
	MarkFeedbackSubmitted(ctx context.Context, sessionID string) error

	// HistoricalAverages averages the grades of all complete sessions,
	// excluding exclude.
	HistoricalAverages(ctx context.Context, exclude string) (HistoricalAverages, error)
}

// Averages computes HistoricalAverages over grades.
func Averages(grades []Grade) HistoricalAverages {
	if len(grades) == 0 {
		return HistoricalAverages{}
	}
	var out HistoricalAverages
	closed := 0
	for _, g := range grades {
		out.Overall += float64(g.Scores.Overall)
		out.Rapport += float64(g.Scores.Rapport)
		out.Discovery += float64(g.Scores.Discovery)
		out.ObjectionHandling += float64(g.Scores.ObjectionHandling)
		out.Closing += float64(g.Scores.Closing)
		if g.SaleClosed {
			closed++
		}
	}
	n := float64(len(grades))
	out.Sessions = len(grades)
	out.Overall /= n
	out.Rapport /= n
	out.Discovery /= n
	out.ObjectionHandling /= n
	out.Closing /= n
	out.CloseRate = float64(closed) / n
	return out
}
