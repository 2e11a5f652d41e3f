// Package transcript models conversation utterances and provides the
// transcript store, JSONL parsing, and live file tailing used to feed them
// to the analyzer and the grading orchestrator.
package transcript

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerRep         Speaker = "rep"
	SpeakerCounterpart Speaker = "counterpart"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == SpeakerRep || s == SpeakerCounterpart
}

// Utterance is one turn of speech. Utterances are immutable once ingested
// and strictly ordered by SequenceIndex.
type Utterance struct {
	ID            string    `json:"id"`
	Speaker       Speaker   `json:"speaker"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	SequenceIndex int       `json:"sequence_index"`
}

// ErrInvalidUtterance is returned for utterances that cannot be ingested.
var ErrInvalidUtterance = errors.New("invalid utterance")

// Validate checks the fields required for ingestion.
func (u Utterance) Validate() error {
	if !u.Speaker.Valid() {
		return fmt.Errorf("%w: unknown speaker %q", ErrInvalidUtterance, u.Speaker)
	}
	if strings.TrimSpace(u.Text) == "" {
		return fmt.Errorf("%w: empty text at index %d", ErrInvalidUtterance, u.SequenceIndex)
	}
	if u.SequenceIndex < 0 {
		return fmt.Errorf("%w: negative sequence index %d", ErrInvalidUtterance, u.SequenceIndex)
	}
	if u.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp at index %d", ErrInvalidUtterance, u.SequenceIndex)
	}
	return nil
}

// WordCount returns the number of whitespace-separated words.
func (u Utterance) WordCount() int {
	return len(strings.Fields(u.Text))
}

// SortByIndex orders utterances by SequenceIndex in place.
func SortByIndex(us []Utterance) {
	sort.SliceStable(us, func(i, j int) bool {
		return us[i].SequenceIndex < us[j].SequenceIndex
	})
}

// Duration returns the session time spanned by an ordered transcript.
func Duration(us []Utterance) time.Duration {
	if len(us) < 2 {
		return 0
	}
	return us[len(us)-1].Timestamp.Sub(us[0].Timestamp)
}
