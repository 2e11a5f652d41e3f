package transcript

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Reader returns the ordered utterances of a session. An unknown session
// yields an empty slice, not an error: transcripts become visible
// eventually and callers poll.
type Reader interface {
	Utterances(ctx context.Context, sessionID string) ([]Utterance, error)
}

// Store reads and appends transcript utterances.
type Store interface {
	Reader
	// Append stores utterances whose SequenceIndex is beyond the last stored
	// index and returns the ones actually appended. Earlier indices are
	// treated as redeliveries and dropped.
	Append(ctx context.Context, sessionID string, us ...Utterance) ([]Utterance, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Utterance
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Utterance)}
}

// Utterances implements Reader.
func (m *MemoryStore) Utterances(_ context.Context, sessionID string) ([]Utterance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.sessions[sessionID]
	out := make([]Utterance, len(stored))
	copy(out, stored)
	return out, nil
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, sessionID string, us ...Utterance) ([]Utterance, error) {
	accepted, err := Prepare(us)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.sessions[sessionID]
	last := -1
	if len(existing) > 0 {
		last = existing[len(existing)-1].SequenceIndex
	}

	appended := make([]Utterance, 0, len(accepted))
	for _, u := range accepted {
		if u.SequenceIndex <= last {
			continue
		}
		existing = append(existing, u)
		appended = append(appended, u)
		last = u.SequenceIndex
	}
	m.sessions[sessionID] = existing
	return appended, nil
}

// Prepare validates, assigns missing IDs, and orders utterances for storage.
func Prepare(us []Utterance) ([]Utterance, error) {
	out := make([]Utterance, len(us))
	copy(out, us)
	for i := range out {
		if err := out[i].Validate(); err != nil {
			return nil, err
		}
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	SortByIndex(out)
	return out, nil
}
