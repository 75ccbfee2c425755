package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe in-memory snapshot store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Load returns a cloned record, or nil when the session is unknown.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*Record, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecord(s.records[sessionID]), nil
}

// SaveIfVersion performs compare-and-set persistence.
func (s *InMemoryStore) SaveIfVersion(_ context.Context, rec *Record, expectedVersion int) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Record
	if rec != nil {
		current = s.records[strings.TrimSpace(rec.SessionID)]
	}
	next, err := prepareRecord(rec, current, expectedVersion)
	if err != nil {
		return 0, err
	}
	if s.records == nil {
		s.records = make(map[string]*Record)
	}
	s.records[next.SessionID] = next
	return next.Version, nil
}

// Delete removes a session. Unknown ids are ignored.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, strings.TrimSpace(sessionID))
	return nil
}

// ListIdle returns sessions last updated before the given time, oldest first.
func (s *InMemoryStore) ListIdle(_ context.Context, before time.Time) ([]string, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idle := make([]*Record, 0)
	for _, rec := range s.records {
		if rec.UpdatedAt.Before(before) {
			idle = append(idle, rec)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].UpdatedAt.Before(idle[j].UpdatedAt)
	})
	ids := make([]string, 0, len(idle))
	for _, rec := range idle {
		ids = append(ids, rec.SessionID)
	}
	return ids, nil
}
