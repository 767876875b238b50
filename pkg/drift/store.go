package drift

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultSignalsPerFeature bounds the signals retained per feature.
const DefaultSignalsPerFeature = 100

var (
	// ErrSignalNotFound is returned for an unknown signal id.
	ErrSignalNotFound = errors.New("drift signal not found")

	// ErrInvalidTransition is returned when a lifecycle change is not allowed
	// from the signal's current status.
	ErrInvalidTransition = errors.New("invalid drift signal transition")
)

// Store holds signals in a bounded buffer per feature. When a feature's
// buffer is full the oldest closed signal is evicted, or the oldest signal
// when none is closed.
type Store struct {
	mu       sync.RWMutex
	capacity int
	byFeat   map[string][]*Signal
	byID     map[string]*Signal
}

// NewStore creates a store retaining up to capacity signals per feature.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultSignalsPerFeature
	}
	return &Store{
		capacity: capacity,
		byFeat:   make(map[string][]*Signal),
		byID:     make(map[string]*Signal),
	}
}

// Upsert adds s, or refreshes the open signal of the same feature and type.
// It returns the stored signal and whether it was newly added.
func (st *Store) Upsert(s *Signal) (*Signal, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.byFeat[s.Feature] {
		if existing.Type == s.Type && !existing.Status.Closed() {
			existing.Severity = s.Severity
			existing.Observation = s.Observation
			existing.Context = s.Context
			existing.Recommendation = s.Recommendation
			existing.DetectedAt = s.DetectedAt
			return existing.clone(), false
		}
	}

	list := st.byFeat[s.Feature]
	if len(list) >= st.capacity {
		victim := 0
		for i, existing := range list {
			if existing.Status.Closed() {
				victim = i
				break
			}
		}
		delete(st.byID, list[victim].ID)
		list = append(list[:victim], list[victim+1:]...)
	}

	c := s.clone()
	st.byFeat[s.Feature] = append(list, c)
	st.byID[c.ID] = c
	return c.clone(), true
}

// Get returns a signal by id.
func (st *Store) Get(id string) (*Signal, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignalNotFound, id)
	}
	return s.clone(), nil
}

// List returns matching signals, newest first.
func (st *Store) List(f Filter) []*Signal {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []*Signal
	for _, list := range st.byFeat {
		for _, s := range list {
			if f.matches(s) {
				out = append(out, s.clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of retained signals for a feature.
func (st *Store) Len(feature string) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byFeat[feature])
}

// Acknowledge moves a new signal to acknowledged.
func (st *Store) Acknowledge(id, by string, now time.Time) (*Signal, error) {
	return st.transition(id, StatusAcknowledged, by, "", now)
}

// Resolve closes an open signal as resolved.
func (st *Store) Resolve(id, by, note string, now time.Time) (*Signal, error) {
	return st.transition(id, StatusResolved, by, note, now)
}

// Dismiss closes an open signal as dismissed.
func (st *Store) Dismiss(id, by, note string, now time.Time) (*Signal, error) {
	return st.transition(id, StatusDismissed, by, note, now)
}

func (st *Store) transition(id string, to Status, by, note string, now time.Time) (*Signal, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignalNotFound, id)
	}
	if !allowed(s.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	s.UpdatedBy = by
	if note != "" {
		s.Note = note
	}
	return s.clone(), nil
}

func allowed(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusAcknowledged || to == StatusResolved || to == StatusDismissed
	case StatusAcknowledged:
		return to == StatusResolved || to == StatusDismissed
	default:
		return false
	}
}
