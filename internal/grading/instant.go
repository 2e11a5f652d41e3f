package grading

import (
	"errors"
	"math"
	"strconv"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// ErrEmptyTranscript is returned when metrics are requested for no utterances.
var ErrEmptyTranscript = errors.New("empty transcript")

// ComputeInstantMetrics replays the transcript through a fresh analyzer and
// derives deterministic metrics and preliminary scores. Identical input
// always yields identical output.
func ComputeInstantMetrics(sessionID string, us []transcript.Utterance, cfg analyzer.Config) (session.InstantMetrics, error) {
	if len(us) == 0 {
		return session.InstantMetrics{}, ErrEmptyTranscript
	}
	ordered := make([]transcript.Utterance, len(us))
	copy(ordered, us)
	transcript.SortByIndex(ordered)

	a := analyzer.New(sessionID, analyzer.WithConfig(cfg))
	events := a.ProcessAll(ordered)
	sum := a.Summary()
	st := sum.Stats

	m := session.InstantMetrics{
		DurationSeconds:  transcript.Duration(ordered).Seconds(),
		Utterances:       len(ordered),
		RepWords:         st.RepWords,
		CounterpartWords: st.CounterpartWords,
		Questions: session.QuestionCounts{
			Discovery:  st.DiscoveryQuestions,
			Qualifying: st.QualifyingQuestions,
			Closed:     st.ClosedQuestions,
			Rapport:    st.RapportQuestions,
		},
		ObjectionCount:        len(sum.Objections),
		ObjectionsOutstanding: len(sum.Outstanding),
		CloseAttempts:         st.CloseAttempts,
		Techniques:            st.Techniques,
		PeakCommitment:        st.PeakCommitment,
		Trend:                 string(sum.Trend),
	}
	if minutes := m.DurationSeconds / 60; minutes > 0 {
		m.PaceWPM = round1(float64(st.RepWords) / minutes)
	}
	if total := st.RepWords + st.CounterpartWords; total > 0 {
		m.RepTalkShare = round2(float64(st.RepWords) / float64(total))
	}

	reobjections := 0
	for _, inst := range sum.Objections {
		if inst.Handled {
			m.ObjectionsHandled++
		}
		reobjections += inst.Reobjections
		m.Objections = append(m.Objections, session.ObjectionReview{
			Type:    string(inst.Type),
			Index:   inst.RaisedAtIndex,
			Status:  string(inst.Status),
			Quality: string(inst.Quality),
		})
	}

	for _, ev := range events {
		idx, err := strconv.Atoi(ev.Metadata["sequence_index"])
		if err != nil {
			continue
		}
		m.Signals = append(m.Signals, session.Signal{
			Index:    idx,
			Kind:     string(ev.Kind),
			Severity: string(ev.Severity),
			Message:  ev.Message,
		})
	}

	m.PreliminaryScores = preliminaryScores(m, reobjections)
	return m, nil
}

// preliminaryScores is a transparent rubric over the instant metrics.
func preliminaryScores(m session.InstantMetrics, reobjections int) session.Scores {
	q := m.Questions

	rapport := 50 + 10*q.Rapport + 5*len(m.Techniques)
	if m.RepTalkShare > 0.7 {
		rapport -= 10
	}

	discovery := 40 + 12*q.Discovery + 10*q.Qualifying - 5*q.Closed

	handling := 70
	if m.ObjectionCount > 0 {
		handling = 40 + 60*m.ObjectionsHandled/m.ObjectionCount - 10*reobjections
	}

	closing := 30 + 20*min(m.CloseAttempts, 2)
	switch m.PeakCommitment {
	case "buying":
		closing += 20
	case "strong":
		closing += 10
	}
	closing -= 10 * m.ObjectionsOutstanding

	s := session.Scores{
		Rapport:           clamp(rapport),
		Discovery:         clamp(discovery),
		ObjectionHandling: clamp(handling),
		Closing:           clamp(closing),
	}
	s.Overall = clamp(int(math.Round(float64(s.Rapport+s.Discovery+s.ObjectionHandling+s.Closing) / 4)))
	return s
}

func clamp(v int) int {
	return max(0, min(100, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
