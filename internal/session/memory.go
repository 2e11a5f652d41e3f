package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", sessionID, ErrNotFound)
	}
	return rec.Clone(), nil
}

// BeginGrading implements Store.
func (m *MemoryStore) BeginGrading(_ context.Context, sessionID string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec, ok := m.records[sessionID]
	if !ok {
		rec = NewRecord(sessionID, now)
		m.records[sessionID] = rec
	}
	if rec.Status == StatusGrading || rec.Status == StatusComplete {
		return rec.Clone(), false, nil
	}

	rec.Status = StatusGrading
	rec.Error = ""
	rec.PartialResult = false
	rec.Grade = nil
	rec.Analytics = nil
	rec.resetPhases(now)
	rec.UpdatedAt = now
	return rec.Clone(), true, nil
}

func (m *MemoryStore) update(sessionID string, fn func(*Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return fmt.Errorf("update %s: %w", sessionID, ErrNotFound)
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = m.now().UTC()
	return nil
}

// UpdatePhase implements Store.
func (m *MemoryStore) UpdatePhase(_ context.Context, sessionID string, state PhaseState) error {
	idx := state.Phase.Index()
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPhase, state.Phase)
	}
	return m.update(sessionID, func(rec *Record) error {
		if state.UpdatedAt.IsZero() {
			state.UpdatedAt = m.now().UTC()
		}
		state.Payload = append([]byte(nil), state.Payload...)
		rec.Phases[idx] = state
		return nil
	})
}

// Finish implements Store.
func (m *MemoryStore) Finish(_ context.Context, sessionID string, outcome Outcome) error {
	return m.update(sessionID, func(rec *Record) error {
		rec.Status = outcome.Status
		rec.PartialResult = outcome.Partial
		rec.Error = outcome.Error
		return nil
	})
}

// SaveGrade implements Store.
func (m *MemoryStore) SaveGrade(_ context.Context, sessionID string, grade Grade) error {
	return m.update(sessionID, func(rec *Record) error {
		g := grade.Clone()
		rec.Grade = &g
		return nil
	})
}

// SaveAnalytics implements Store.
func (m *MemoryStore) SaveAnalytics(_ context.Context, sessionID string, analytics Analytics) error {
	return m.update(sessionID, func(rec *Record) error {
		a := analytics.Clone()
		rec.Analytics = &a
		return nil
	})
}

// MarkFeedbackSubmitted implements Store. Unknown sessions get a pending
// record so the marker is never lost.
func (m *MemoryStore) MarkFeedbackSubmitted(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	rec, ok := m.records[sessionID]
	if !ok {
		rec = NewRecord(sessionID, now)
		m.records[sessionID] = rec
	}
	rec.FeedbackSubmitted = true
	rec.UpdatedAt = now
	return nil
}

// HistoricalAverages implements Store.
func (m *MemoryStore) HistoricalAverages(_ context.Context, exclude string) (HistoricalAverages, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var grades []Grade
	for _, id := range ids {
		rec := m.records[id]
		if id == exclude || rec.Status != StatusComplete || rec.Grade == nil {
			continue
		}
		grades = append(grades, *rec.Grade)
	}
	return Averages(grades), nil
}
