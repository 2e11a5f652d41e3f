package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_BeginGradingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, started, err := s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, StatusGrading, rec.Status)
	for i, p := range Phases {
		assert.Equal(t, p, rec.Phases[i].Phase)
		assert.Equal(t, PhasePending, rec.Phases[i].Status)
	}

	_, started, err = s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, s.Finish(ctx, "sess-1", Outcome{Status: StatusComplete}))
	_, started, err = s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, started)
}

func TestMemoryStore_FailedSessionCanRestart(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, err := s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePhase(ctx, "sess-1", PhaseState{Phase: PhaseInstant, Status: PhaseFailed, Error: "boom"}))
	require.NoError(t, s.SaveGrade(ctx, "sess-1", Grade{Scores: Scores{Overall: 40}}))
	require.NoError(t, s.SaveAnalytics(ctx, "sess-1", Analytics{Feedback: Feedback{Narrative: "stale"}}))
	require.NoError(t, s.Finish(ctx, "sess-1", Outcome{Status: StatusFailed, Error: "boom"}))

	rec, started, err := s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Empty(t, rec.Error)
	assert.Equal(t, PhasePending, rec.Phase(PhaseInstant).Status)
	assert.Nil(t, rec.Grade)
	assert.Nil(t, rec.Analytics)
}

func TestMemoryStore_PhaseTrusted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, err := s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)

	// a later phase completing first is not trusted
	require.NoError(t, s.UpdatePhase(ctx, "sess-1", PhaseState{Phase: PhaseKeyMoments, Status: PhaseComplete}))
	rec, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, rec.PhaseTrusted(PhaseKeyMoments))

	require.NoError(t, s.UpdatePhase(ctx, "sess-1", PhaseState{
		Phase:   PhaseInstant,
		Status:  PhaseComplete,
		Payload: json.RawMessage(`{"pace":120}`),
	}))
	rec, err = s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, rec.PhaseTrusted(PhaseInstant))
	assert.True(t, rec.PhaseTrusted(PhaseKeyMoments))
	assert.False(t, rec.PhaseTrusted(PhaseDeepAnalysis))
	assert.JSONEq(t, `{"pace":120}`, string(rec.Phase(PhaseInstant).Payload))
}

func TestMemoryStore_UpdatePhaseRejectsUnknown(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdatePhase(context.Background(), "sess-1", PhaseState{Phase: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidPhase)

	err = s.UpdatePhase(context.Background(), "missing", PhaseState{Phase: PhaseInstant})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GradeAndAnalyticsAreSeparate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, err := s.BeginGrading(ctx, "sess-1")
	require.NoError(t, err)

	grade := Grade{
		Scores:          Scores{Overall: 85, Closing: 90},
		SaleClosed:      true,
		VirtualEarnings: 170,
		Audit:           Audit{Mechanism: MechanismModel, Triggers: []string{"t"}},
	}
	require.NoError(t, s.SaveGrade(ctx, "sess-1", grade))

	// callers mutating their copy never reach the store
	grade.Audit.Triggers[0] = "changed"

	rec, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, rec.Grade)
	assert.Nil(t, rec.Analytics)
	assert.Equal(t, []string{"t"}, rec.Grade.Audit.Triggers)

	require.NoError(t, s.SaveAnalytics(ctx, "sess-1", Analytics{Feedback: Feedback{Narrative: "Solid close."}}))
	rec, err = s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Solid close.", rec.Analytics.Feedback.Narrative)
}

func TestMemoryStore_MarkFeedbackSubmitted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.MarkFeedbackSubmitted(ctx, "sess-1"))

	rec, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, rec.FeedbackSubmitted)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestMemoryStore_HistoricalAverages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed := func(id string, overall int, closed bool) {
		_, _, err := s.BeginGrading(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.SaveGrade(ctx, id, Grade{Scores: Scores{Overall: overall}, SaleClosed: closed}))
		require.NoError(t, s.Finish(ctx, id, Outcome{Status: StatusComplete}))
	}
	seed("a", 80, true)
	seed("b", 60, false)
	seed("c", 10, false)

	// grading sessions are not counted
	_, _, err := s.BeginGrading(ctx, "d")
	require.NoError(t, err)

	avg, err := s.HistoricalAverages(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, avg.Sessions)
	assert.InDelta(t, 70, avg.Overall, 0.001)
	assert.InDelta(t, 0.5, avg.CloseRate, 0.001)
}

func TestAverages_Empty(t *testing.T) {
	assert.Equal(t, HistoricalAverages{}, Averages(nil))
}
