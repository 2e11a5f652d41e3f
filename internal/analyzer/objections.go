package analyzer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// ObjectionStatus is the lifecycle state of an objection instance.
type ObjectionStatus string

const (
	ObjectionOpen     ObjectionStatus = "open"
	ObjectionHandled  ObjectionStatus = "handled"
	ObjectionIgnored  ObjectionStatus = "ignored"
	ObjectionResolved ObjectionStatus = "resolved"
)

// HandlingQuality grades how the rep handled an objection.
type HandlingQuality string

const (
	QualityNone   HandlingQuality = ""
	QualityWeak   HandlingQuality = "weak"
	QualityStrong HandlingQuality = "strong"
)

// Timing places an objection within the session.
type Timing string

const (
	TimingEarly Timing = "early"
	TimingMid   Timing = "mid"
	TimingLate  Timing = "late"
)

// ObjectionInstance tracks one raised objection through its lifecycle.
type ObjectionInstance struct {
	Key              string          `json:"key"`
	Type             ObjectionType   `json:"type"`
	UtteranceID      string          `json:"utterance_id"`
	RaisedAtIndex    int             `json:"raised_at_index"`
	RaisedAt         time.Time       `json:"raised_at"`
	Timing           Timing          `json:"timing"`
	BrushOff         bool            `json:"brush_off"`
	Status           ObjectionStatus `json:"status"`
	Quality          HandlingQuality `json:"quality,omitempty"`
	Handled          bool            `json:"handled"`
	Resolved         bool            `json:"resolved"`
	AddressAttempted bool            `json:"address_attempted"`
	SolutionProposed bool            `json:"solution_proposed"`
	LastCheckedIndex int             `json:"last_checked_index"`
	Reobjections     int             `json:"reobjections"`

	// Handling windows restart when the same type is raised again.
	windowIndex int
	windowStart time.Time
}

// ObjectionKey builds the instance key from type and raising utterance.
func ObjectionKey(t ObjectionType, utteranceID string) string {
	return string(t) + ":" + utteranceID
}

// TrackerConfig holds the lifecycle windows.
type TrackerConfig struct {
	HandleWithin time.Duration // acknowledgment must land within this
	IgnoreAfter  time.Duration // unaddressed past this means ignored
	StackWindow  time.Duration // distinct types within this are stacked
}

// DefaultTrackerConfig returns the standard coaching windows.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		HandleWithin: 30 * time.Second,
		IgnoreAfter:  60 * time.Second,
		StackWindow:  45 * time.Second,
	}
}

// transition is a lifecycle change the analyzer turns into an event.
type transition struct {
	kind     Kind
	instance *ObjectionInstance
	severity Severity
	message  string
	extra    map[string]string
}

// ObjectionTracker owns every objection instance of one session.
type ObjectionTracker struct {
	cfg       TrackerConfig
	instances []*ObjectionInstance
	byKey     map[string]*ObjectionInstance
}

// NewObjectionTracker creates an empty tracker.
func NewObjectionTracker(cfg TrackerConfig) *ObjectionTracker {
	return &ObjectionTracker{cfg: cfg, byKey: make(map[string]*ObjectionInstance)}
}

// Get returns the instance with key, or nil.
func (t *ObjectionTracker) Get(key string) *ObjectionInstance {
	return t.byKey[key]
}

// Instances returns copies of all instances in raise order.
func (t *ObjectionTracker) Instances() []ObjectionInstance {
	out := make([]ObjectionInstance, len(t.instances))
	for i, inst := range t.instances {
		out[i] = *inst
	}
	return out
}

// Outstanding returns the raise indices of objections that are neither
// handled nor resolved, ascending.
func (t *ObjectionTracker) Outstanding() []int {
	var out []int
	for _, inst := range t.instances {
		if !inst.Handled && !inst.Resolved {
			out = append(out, inst.RaisedAtIndex)
		}
	}
	sort.Ints(out)
	return out
}

// Evaluate re-checks every instance raised before u against it.
func (t *ObjectionTracker) Evaluate(u transcript.Utterance) []transition {
	var out []transition

	ack := u.Speaker == transcript.SpeakerRep && acknowledgmentRe.MatchString(u.Text)
	solution := u.Speaker == transcript.SpeakerRep && solutionRe.MatchString(u.Text)
	accepted := u.Speaker == transcript.SpeakerCounterpart && acceptanceRe.MatchString(u.Text)

	for _, inst := range t.instances {
		if u.SequenceIndex <= inst.windowIndex {
			continue
		}
		inst.LastCheckedIndex = u.SequenceIndex
		elapsed := u.Timestamp.Sub(inst.windowStart)

		if ack || solution {
			if tr, ok := t.applyRepResponse(inst, elapsed, ack, solution); ok {
				out = append(out, tr)
			}
			continue
		}

		if accepted && inst.SolutionProposed && !inst.Resolved {
			inst.Resolved = true
			inst.Handled = true
			inst.Status = ObjectionResolved
			out = append(out, transition{
				kind:     KindObjectionResolved,
				instance: inst,
				severity: SeverityGood,
				message:  fmt.Sprintf("%s objection resolved: the prospect accepted your solution", capitalize(string(inst.Type))),
			})
			continue
		}

		if inst.Status == ObjectionOpen && !inst.AddressAttempted && elapsed > t.cfg.IgnoreAfter {
			inst.Status = ObjectionIgnored
			out = append(out, transition{
				kind:     KindObjectionIgnored,
				instance: inst,
				severity: SeverityNeedsImprovement,
				message:  fmt.Sprintf("%s objection went unaddressed for over %s", capitalize(string(inst.Type)), t.cfg.IgnoreAfter),
			})
		}
	}
	return out
}

func (t *ObjectionTracker) applyRepResponse(inst *ObjectionInstance, elapsed time.Duration, ack, solution bool) (transition, bool) {
	if inst.Resolved {
		return transition{}, false
	}
	inst.AddressAttempted = true
	if solution {
		inst.SolutionProposed = true
	}
	if elapsed > t.cfg.HandleWithin || inst.Quality == QualityStrong {
		return transition{}, false
	}

	quality := QualityWeak
	if ack && solution {
		quality = QualityStrong
	}
	if inst.Quality == quality {
		return transition{}, false
	}

	inst.Handled = true
	inst.Quality = quality
	inst.Status = ObjectionHandled

	tr := transition{kind: KindObjectionHandled, instance: inst, extra: map[string]string{"quality": string(quality)}}
	switch {
	case quality == QualityStrong:
		tr.severity = SeverityGood
		tr.message = fmt.Sprintf("Strong handling of the %s objection: acknowledged and offered a solution", inst.Type)
	case ack:
		tr.severity = SeverityNeutral
		tr.message = fmt.Sprintf("You acknowledged the %s objection; follow up with a concrete solution", inst.Type)
	default:
		tr.severity = SeverityNeutral
		tr.message = fmt.Sprintf("You jumped to a solution for the %s objection; acknowledge the concern first", inst.Type)
	}
	return tr, true
}

// Raise records a detected objection of typ at u. It returns the transition
// to emit, if any: a new objection, a re-objection of a handled or resolved
// instance, or nothing when an instance of that type is still open.
func (t *ObjectionTracker) Raise(u transcript.Utterance, typ ObjectionType, timing Timing, brushOff bool) (transition, bool) {
	if prev := t.latestOfType(typ); prev != nil {
		if !prev.Handled && !prev.Resolved {
			return transition{}, false
		}
		prev.Handled = false
		prev.Resolved = false
		prev.Status = ObjectionOpen
		prev.Quality = QualityNone
		prev.AddressAttempted = false
		prev.SolutionProposed = false
		prev.Reobjections++
		prev.windowIndex = u.SequenceIndex
		prev.windowStart = u.Timestamp
		prev.LastCheckedIndex = u.SequenceIndex

		return transition{
			kind:     KindReObjection,
			instance: prev,
			severity: SeverityNeedsImprovement,
			message:  t.stacked(fmt.Sprintf("The %s objection came back; your earlier answer did not land", typ), u),
			extra: map[string]string{
				"original_key":   prev.Key,
				"original_index": strconv.Itoa(prev.RaisedAtIndex),
			},
		}, true
	}

	inst := &ObjectionInstance{
		Key:              ObjectionKey(typ, u.ID),
		Type:             typ,
		UtteranceID:      u.ID,
		RaisedAtIndex:    u.SequenceIndex,
		RaisedAt:         u.Timestamp,
		Timing:           timing,
		BrushOff:         brushOff,
		Status:           ObjectionOpen,
		LastCheckedIndex: u.SequenceIndex,
		windowIndex:      u.SequenceIndex,
		windowStart:      u.Timestamp,
	}
	t.instances = append(t.instances, inst)
	t.byKey[inst.Key] = inst

	var msg string
	switch {
	case brushOff:
		msg = fmt.Sprintf("Early %s brush-off: keep building value before treating it as a real objection", typ)
	case timing == TimingLate:
		msg = fmt.Sprintf("Late %s objection: a genuine concern, address it directly", typ)
	default:
		msg = fmt.Sprintf("%s objection raised", capitalize(string(typ)))
	}

	return transition{
		kind:     KindObjection,
		instance: inst,
		severity: SeverityNeutral,
		message:  t.stacked(msg, u),
		extra:    map[string]string{"timing": string(timing), "brush_off": strconv.FormatBool(brushOff)},
	}, true
}

// stacked appends a qualifier naming the distinct objection types raised
// within the stack window when there are at least two.
func (t *ObjectionTracker) stacked(msg string, u transcript.Utterance) string {
	seen := map[ObjectionType]bool{}
	var types []string
	for _, inst := range t.instances {
		if u.Timestamp.Sub(inst.windowStart) > t.cfg.StackWindow || seen[inst.Type] {
			continue
		}
		seen[inst.Type] = true
		types = append(types, string(inst.Type))
	}
	if len(types) < 2 {
		return msg
	}
	sort.Strings(types)
	return msg + " (stacked objections: " + strings.Join(types, ", ") + ")"
}

func (t *ObjectionTracker) latestOfType(typ ObjectionType) *ObjectionInstance {
	for i := len(t.instances) - 1; i >= 0; i-- {
		if t.instances[i].Type == typ {
			return t.instances[i]
		}
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
