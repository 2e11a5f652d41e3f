package analyzer

import (
	"sync"
	"time"
)

// Severity grades a piece of feedback for the rep.
type Severity string

const (
	SeverityGood             Severity = "good"
	SeverityNeutral          Severity = "neutral"
	SeverityNeedsImprovement Severity = "needs_improvement"
)

// Kind names the detector outcome behind an event.
type Kind string

const (
	KindObjection         Kind = "objection"
	KindReObjection       Kind = "re_objection"
	KindObjectionHandled  Kind = "objection_handled"
	KindObjectionIgnored  Kind = "objection_ignored"
	KindObjectionResolved Kind = "objection_resolved"
	KindCommitment        Kind = "commitment"
	KindMomentum          Kind = "momentum"
	KindTechnique         Kind = "technique"
	KindCloseAttempt      Kind = "close_attempt"
	KindRapportQuestion   Kind = "rapport_question"
	KindQuestionQuality   Kind = "question_quality"
	KindClosedStreak      Kind = "closed_question_streak"
	KindPriceBeforeValue  Kind = "price_before_value"
	KindMonologue         Kind = "monologue"
)

// FeedbackEvent is one real-time coaching signal.
type FeedbackEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"kind"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no Metadata with e.
func (e FeedbackEvent) Clone() FeedbackEvent {
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}

// DefaultFeedCapacity is how many events a Feed retains.
const DefaultFeedCapacity = 50

// Feed is the bounded, ordered, append-only event list shown to the rep.
// Only the most recent events are retained. Safe for concurrent readers.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	events   []FeedbackEvent
	total    int
}

// NewFeed creates a feed retaining at most capacity events.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{capacity: capacity}
}

// Append adds events in order, evicting the oldest beyond capacity.
func (f *Feed) Append(events ...FeedbackEvent) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range events {
		f.events = append(f.events, e.Clone())
	}
	f.total += len(events)
	if over := len(f.events) - f.capacity; over > 0 {
		f.events = append([]FeedbackEvent(nil), f.events[over:]...)
	}
}

// Events returns a copy of the retained events, oldest first.
func (f *Feed) Events() []FeedbackEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FeedbackEvent, len(f.events))
	for i, e := range f.events {
		out[i] = e.Clone()
	}
	return out
}

// Total returns how many events were ever appended.
func (f *Feed) Total() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.total
}
