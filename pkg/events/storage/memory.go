package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// MemoryStorage implements events.Store with an in-memory map. Events are
// lost on restart.
type MemoryStorage struct {
	events map[string]*events.Event
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new in-memory event store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events: make(map[string]*events.Event),
	}
}

// Append stores a copy of e.
func (s *MemoryStorage) Append(ctx context.Context, e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return events.NewStorageError("memory", "append", events.ErrDuplicateID)
	}
	s.events[e.ID] = e.Clone()
	return nil
}

// Get returns a copy of the event.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return e.Clone(), nil
}

// Query returns copies of matching events.
func (s *MemoryStorage) Query(ctx context.Context, q *events.Query) ([]*events.Event, error) {
	s.mu.RLock()
	results := make([]*events.Event, 0)
	for _, e := range s.events {
		if q.Matches(e) {
			results = append(results, e.Clone())
		}
	}
	s.mu.RUnlock()

	desc := q != nil && q.Descending
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if desc {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	if q == nil {
		return results, nil
	}
	start := q.Offset
	if start > len(results) {
		return []*events.Event{}, nil
	}
	end := len(results)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return results[start:end], nil
}

// Count returns the number of matching events.
func (s *MemoryStorage) Count(ctx context.Context, q *events.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if q.Matches(e) {
			n++
		}
	}
	return n, nil
}

// UpdateOutcome replaces the outcome when the version matches.
func (s *MemoryStorage) UpdateOutcome(ctx context.Context, id string, outcome *events.Outcome, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return events.ErrNotFound
	}
	if e.Version != expectedVersion {
		return events.ErrVersionConflict
	}
	o := *outcome
	e.Outcome = &o
	e.Version++
	return nil
}

// DeleteBefore removes events older than before.
func (s *MemoryStorage) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.events {
		if e.Timestamp.Before(before) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}
