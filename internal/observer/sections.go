package observer

import "github.com/fyrsmithlabs/dealcoach/internal/session"

// Section is one independently displayed part of the grading result.
type Section string

const (
	SectionSummary           Section = "summary"
	SectionScores            Section = "scores"
	SectionFeedback          Section = "feedback"
	SectionObjectionAnalysis Section = "objectionAnalysis"
	SectionCoachingPlan      Section = "coachingPlan"
)

// Sections is the fixed reveal order.
var Sections = []Section{
	SectionSummary,
	SectionScores,
	SectionFeedback,
	SectionObjectionAnalysis,
	SectionCoachingPlan,
}

// Completed is the ordered set of revealed sections.
type Completed []Section

// Has reports whether s is in c.
func (c Completed) Has(s Section) bool {
	for _, x := range c {
		if x == s {
			return true
		}
	}
	return false
}

// Done reports whether every section is revealed.
func (c Completed) Done() bool {
	_, ok := NextIncomplete(c)
	return !ok
}

// NextIncomplete returns the first section in Sections not yet completed.
func NextIncomplete(c Completed) (Section, bool) {
	for _, s := range Sections {
		if !c.Has(s) {
			return s, true
		}
	}
	return "", false
}

// Advance reveals sections in order for as long as rec supports them. It
// never removes a section, so an older record read after a newer one cannot
// regress progress. The input is not modified.
func Advance(c Completed, rec *session.Record) Completed {
	return advance(c, rec, ready)
}

// ForceAdvance is Advance without waiting for the session to complete: it
// reveals sections in order for as long as rec holds their data. It backs
// best-effort completion at the deadline.
func ForceAdvance(c Completed, rec *session.Record) Completed {
	return advance(c, rec, func(s Section, rec *session.Record) bool {
		return ready(s, rec) || present(s, rec)
	})
}

func advance(c Completed, rec *session.Record, ok func(Section, *session.Record) bool) Completed {
	out := append(Completed(nil), c...)
	if rec == nil {
		return out
	}
	for {
		next, more := NextIncomplete(out)
		if !more || !ok(next, rec) {
			return out
		}
		out = append(out, next)
	}
}

// present reports whether rec holds the data s displays, whatever the
// session status.
func present(s Section, rec *session.Record) bool {
	switch s {
	case SectionSummary:
		return rec.PhaseTrusted(session.PhaseInstant)
	case SectionScores:
		return rec.Grade != nil
	case SectionFeedback, SectionObjectionAnalysis, SectionCoachingPlan:
		return rec.Analytics != nil
	default:
		return false
	}
}

// ready reports whether rec carries what s displays. A complete session
// without analytics is a partial result; its analytics sections are
// released empty.
func ready(s Section, rec *session.Record) bool {
	complete := rec.Status == session.StatusComplete
	switch s {
	case SectionSummary:
		return rec.PhaseTrusted(session.PhaseInstant)
	case SectionScores:
		return complete && rec.Grade != nil
	case SectionFeedback, SectionObjectionAnalysis, SectionCoachingPlan:
		return rec.Analytics != nil || complete
	default:
		return false
	}
}
