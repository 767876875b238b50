package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory backend.
const DefaultMaxEntries = 100_000

// MemoryBackend keeps buckets in process. Each bucket has its own lock, so
// consumers of unrelated targets never contend.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	maxEntries int
}

type memoryEntry struct {
	mu      sync.Mutex
	bucket  Bucket
	evicted bool
}

// NewMemoryBackend creates an in-memory backend holding at most maxEntries
// buckets. Zero selects DefaultMaxEntries.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryBackend{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get returns a copy of the bucket for key.
func (m *MemoryBackend) Get(ctx context.Context, key string) (*Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, nil
	}
	b := e.bucket
	return &b, nil
}

// Add applies delta under the bucket's lock.
func (m *MemoryBackend) Add(ctx context.Context, b *Bucket, delta Counters) (*Bucket, error) {
	if err := validateBucket(b); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e := m.entry(b)
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		apply(&e.bucket, b, delta)
		out := e.bucket
		e.mu.Unlock()
		return &out, nil
	}
}

// Reserve locks every named bucket in key order, checks headroom and applies
// delta to all of them or none.
func (m *MemoryBackend) Reserve(ctx context.Context, reservations []Reservation, delta Counters) (*ReserveResult, error) {
	for _, r := range reservations {
		if err := validateBucket(r.Bucket); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries := make([]*memoryEntry, len(reservations))
		for i, r := range reservations {
			entries[i] = m.entry(r.Bucket)
		}

		unlock, ok := lockOrdered(entries)
		if !ok {
			continue
		}

		result := &ReserveResult{Denied: -1}
		for i, r := range reservations {
			if r.Limit == nil {
				continue
			}
			if exceeded := entries[i].bucket.Counters.Exceeds(delta, *r.Limit); len(exceeded) > 0 {
				result.Denied = i
				result.Exceeded = exceeded
				break
			}
		}

		result.Granted = result.Denied == -1
		result.Buckets = make([]*Bucket, len(entries))
		for i, e := range entries {
			if result.Granted {
				apply(&e.bucket, reservations[i].Bucket, delta)
			}
			b := e.bucket
			result.Buckets[i] = &b
		}
		unlock()
		return result, nil
	}
}

// List returns copies of the buckets for target, ordered by key.
func (m *MemoryBackend) List(ctx context.Context, target string) ([]*Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	entries := make([]*memoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var out []*Bucket
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && (target == "" || e.bucket.Target == target) {
			b := e.bucket
			out = append(out, &b)
		}
		e.mu.Unlock()
	}
	sortBuckets(out)
	return out, nil
}

// DeleteExpired removes buckets whose period ended before the cutoff.
func (m *MemoryBackend) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(func(b *Bucket) bool { return b.PeriodEnd.Before(before) }, len(m.entries)), nil
}

// Len returns the number of buckets held.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

// entry returns the entry for b, creating it when missing. When the backend
// is full, ended buckets are evicted first, then those ending soonest.
func (m *MemoryBackend) entry(b *Bucket) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[b.Key]; ok {
		return e
	}

	if len(m.entries) >= m.maxEntries {
		over := len(m.entries) - m.maxEntries + 1
		over -= m.evictLocked(func(old *Bucket) bool { return !old.PeriodEnd.After(b.PeriodStart) }, over)
		if over > 0 {
			m.evictOldestLocked(over)
		}
	}

	e := &memoryEntry{bucket: Bucket{
		Key:         b.Key,
		Target:      b.Target,
		Period:      b.Period,
		PeriodStart: b.PeriodStart,
		PeriodEnd:   b.PeriodEnd,
	}}
	m.entries[b.Key] = e
	return e
}

func (m *MemoryBackend) evictLocked(match func(*Bucket) bool, limit int) int {
	removed := 0
	for key, e := range m.entries {
		if removed >= limit {
			break
		}
		e.mu.Lock()
		if match(&e.bucket) {
			e.evicted = true
			delete(m.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

func (m *MemoryBackend) evictOldestLocked(n int) {
	type candidate struct {
		key string
		end time.Time
	}
	cands := make([]candidate, 0, len(m.entries))
	for key, e := range m.entries {
		e.mu.Lock()
		cands = append(cands, candidate{key: key, end: e.bucket.PeriodEnd})
		e.mu.Unlock()
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].end.Before(cands[j].end) })

	for i := 0; i < n && i < len(cands); i++ {
		e := m.entries[cands[i].key]
		e.mu.Lock()
		e.evicted = true
		e.mu.Unlock()
		delete(m.entries, cands[i].key)
	}
}

// lockOrdered locks entries in a stable order. It reports false, with nothing
// locked, when any entry was evicted in the meantime.
func lockOrdered(entries []*memoryEntry) (func(), bool) {
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return entries[order[a]].bucket.Key < entries[order[b]].bucket.Key
	})

	var locked []*memoryEntry
	seen := make(map[*memoryEntry]bool, len(entries))
	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}

	for _, i := range order {
		e := entries[i]
		if seen[e] {
			continue
		}
		seen[e] = true
		e.mu.Lock()
		locked = append(locked, e)
		if e.evicted {
			unlock()
			return nil, false
		}
	}
	return unlock, true
}

func apply(dst, src *Bucket, delta Counters) {
	dst.Counters = dst.Counters.Add(delta)
	if src.Feature != "" {
		dst.Feature = src.Feature
	}
	if src.Action != "" {
		dst.Action = src.Action
	}
	dst.UpdatedAt = src.UpdatedAt
	if dst.UpdatedAt.IsZero() {
		dst.UpdatedAt = time.Now()
	}
}

func validateBucket(b *Bucket) error {
	if b == nil {
		return fmt.Errorf("bucket cannot be nil")
	}
	if b.Key == "" {
		return fmt.Errorf("bucket key cannot be empty")
	}
	if b.Target == "" {
		return fmt.Errorf("bucket target cannot be empty")
	}
	return nil
}

func sortBuckets(bs []*Bucket) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Key < bs[j].Key })
}
