package grading

import (
	"sort"

	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// MaxKeyMoments bounds the key-moments payload.
const MaxKeyMoments = 8

const excerptLimit = 160

// Lower rank is more important. Kinds not listed are never key moments.
var momentRank = map[string]int{
	"objection":              0,
	"re_objection":           0,
	"objection_ignored":      1,
	"close_attempt":          1,
	"objection_resolved":     2,
	"objection_handled":      2,
	"commitment":             3,
	"momentum":               4,
	"price_before_value":     4,
	"monologue":              5,
	"closed_question_streak": 6,
}

// SelectKeyMoments picks at most MaxKeyMoments tagged utterances from the
// instant-phase signals, most important first, and returns them in
// transcript order. One moment per utterance.
func SelectKeyMoments(m session.InstantMetrics, us []transcript.Utterance) []session.KeyMoment {
	byIndex := make(map[int]transcript.Utterance, len(us))
	for _, u := range us {
		byIndex[u.SequenceIndex] = u
	}

	type candidate struct {
		rank   int
		signal session.Signal
	}
	var candidates []candidate
	for _, s := range m.Signals {
		rank, ok := momentRank[s.Kind]
		if !ok {
			continue
		}
		if s.Kind == "commitment" && s.Severity != "good" {
			continue
		}
		candidates = append(candidates, candidate{rank: rank, signal: s})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].signal.Index < candidates[j].signal.Index
	})

	seen := make(map[int]bool)
	moments := []session.KeyMoment{}
	for _, c := range candidates {
		if len(moments) == MaxKeyMoments {
			break
		}
		if seen[c.signal.Index] {
			continue
		}
		seen[c.signal.Index] = true
		u := byIndex[c.signal.Index]
		moments = append(moments, session.KeyMoment{
			Index:   c.signal.Index,
			Tag:     c.signal.Kind,
			Speaker: string(u.Speaker),
			Excerpt: excerpt(u.Text),
		})
	}
	sort.Slice(moments, func(i, j int) bool { return moments[i].Index < moments[j].Index })
	return moments
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptLimit {
		return s
	}
	return string(r[:excerptLimit-3]) + "..."
}
