package risk

import (
	"sync"
	"time"
)

// DefaultLogCapacity bounds the number of retained risk events.
const DefaultLogCapacity = 10_000

// Log is a bounded, append-only ring of risk events.
type Log struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{events: make([]Event, capacity)}
}

// Record appends an event, overwriting the oldest once full.
func (l *Log) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[l.next] = e
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
}

// Since returns events at or after t that match scope, oldest first.
func (l *Log) Since(t time.Time, scope Scope) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	l.each(func(e Event) {
		if e.Timestamp.Before(t) {
			return
		}
		if scope.Feature != "" && e.Context.Feature != scope.Feature {
			return
		}
		if scope.Team != "" && e.Context.Team != scope.Team {
			return
		}
		out = append(out, e)
	})
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.events)
	}
	return l.next
}

func (l *Log) each(fn func(Event)) {
	if l.full {
		for _, e := range l.events[l.next:] {
			fn(e)
		}
	}
	for _, e := range l.events[:l.next] {
		fn(e)
	}
}
