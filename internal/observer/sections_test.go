package observer

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func pendingRecord(id string) *session.Record {
	return session.NewRecord(id, now)
}

func gradingRecord(id string) *session.Record {
	rec := session.NewRecord(id, now)
	rec.Status = session.StatusGrading
	rec.Phases[0].Status = session.PhaseComplete
	rec.Phases[0].Payload = []byte(`{"utterances":5}`)
	return rec
}

func completeRecord(id string) *session.Record {
	rec := gradingRecord(id)
	rec.Status = session.StatusComplete
	rec.Phases[1].Status = session.PhaseComplete
	rec.Phases[2].Status = session.PhaseComplete
	rec.Grade = &session.Grade{Scores: session.Scores{Overall: 81}}
	rec.Analytics = &session.Analytics{Feedback: session.Feedback{Narrative: "Solid call."}}
	return rec
}

func TestNextIncomplete(t *testing.T) {
	next, ok := NextIncomplete(nil)
	assert.True(t, ok)
	assert.Equal(t, SectionSummary, next)

	next, ok = NextIncomplete(Completed{SectionSummary, SectionScores})
	assert.True(t, ok)
	assert.Equal(t, SectionFeedback, next)

	_, ok = NextIncomplete(Completed(Sections))
	assert.False(t, ok)
}

func TestAdvance(t *testing.T) {
	partial := completeRecord("s")
	partial.Analytics = nil
	partial.PartialResult = true

	outOfOrder := gradingRecord("s")
	outOfOrder.Analytics = &session.Analytics{}

	tests := []struct {
		name string
		from Completed
		rec  *session.Record
		want Completed
	}{
		{"nil record", nil, nil, nil},
		{"pending", nil, pendingRecord("s"), nil},
		{"instant metrics only", nil, gradingRecord("s"), Completed{SectionSummary}},
		{"complete", nil, completeRecord("s"), Completed(Sections)},
		{"partial result releases every section", nil, partial, Completed(Sections)},
		{"analytics never skip ahead of scores", nil, outOfOrder, Completed{SectionSummary}},
		{"stale record never regresses", Completed{SectionSummary, SectionScores}, pendingRecord("s"), Completed{SectionSummary, SectionScores}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Advance(tt.from, tt.rec))
		})
	}
}

func TestAdvance_DoesNotModifyInput(t *testing.T) {
	from := make(Completed, 0, 8)
	from = append(from, SectionSummary)

	out := Advance(from, completeRecord("s"))

	assert.Len(t, out, len(Sections))
	assert.Equal(t, Completed{SectionSummary}, from)
}

func TestForceAdvance(t *testing.T) {
	lagging := gradingRecord("s")
	lagging.Grade = &session.Grade{Scores: session.Scores{Overall: 81}}
	lagging.Analytics = &session.Analytics{}

	gradeOnly := gradingRecord("s")
	gradeOnly.Grade = &session.Grade{}

	analyticsOnly := gradingRecord("s")
	analyticsOnly.Analytics = &session.Analytics{}

	tests := []struct {
		name string
		from Completed
		rec  *session.Record
		want Completed
	}{
		{"nil record", Completed{SectionSummary}, nil, Completed{SectionSummary}},
		{"pending", nil, pendingRecord("s"), nil},
		{"grading with grade and analytics", nil, lagging, Completed(Sections)},
		{"grade without analytics", nil, gradeOnly, Completed{SectionSummary, SectionScores}},
		{"analytics never skip ahead of scores", nil, analyticsOnly, Completed{SectionSummary}},
		{"complete", nil, completeRecord("s"), Completed(Sections)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForceAdvance(tt.from, tt.rec))
		})
	}
}
