package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// line is the on-disk shape. SequenceIndex is optional; missing indices
// continue from the previous line.
type line struct {
	ID            string  `json:"id"`
	Speaker       Speaker `json:"speaker"`
	Text          string  `json:"text"`
	Timestamp     string  `json:"timestamp"`
	SequenceIndex *int    `json:"sequence_index"`
}

// ParseJSONL reads one utterance per line. Blank lines are skipped.
func ParseJSONL(r io.Reader) ([]Utterance, error) {
	var (
		out  []Utterance
		next int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		u, ok, err := decodeLine(scanner.Bytes(), next)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}
		out = append(out, u)
		next = u.SequenceIndex + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return out, nil
}

func decodeLine(raw []byte, nextIndex int) (Utterance, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Utterance{}, false, nil
	}

	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Utterance{}, false, fmt.Errorf("decoding utterance: %w", err)
	}

	u := Utterance{ID: l.ID, Speaker: l.Speaker, Text: l.Text, SequenceIndex: nextIndex}
	if l.SequenceIndex != nil {
		u.SequenceIndex = *l.SequenceIndex
	}
	if l.Timestamp != "" {
		ts, err := parseTimestamp(l.Timestamp)
		if err != nil {
			return Utterance{}, false, err
		}
		u.Timestamp = ts
	}
	if err := u.Validate(); err != nil {
		return Utterance{}, false, err
	}
	return u, true, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts, nil
}
