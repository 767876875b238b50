package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Snapshot is an immutable, versioned set of policies.
// Every evaluation reads exactly one snapshot.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	policies []*Definition
	byID     map[string]*Definition
	global   *Definition
}

// SnapshotSource provides the current policy snapshot.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// NewSnapshot builds a snapshot from already validated definitions. The
// definitions are cloned so later changes by the caller are not visible.
func NewSnapshot(version uint64, defs []*Definition, loadedAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		Version:  version,
		LoadedAt: loadedAt,
		policies: make([]*Definition, 0, len(defs)),
		byID:     make(map[string]*Definition, len(defs)),
	}

	for _, def := range defs {
		c := def.Clone()
		s.policies = append(s.policies, c)
		s.byID[c.ID] = c
	}
	sort.SliceStable(s.policies, func(i, j int) bool {
		return outranks(s.policies[i], s.policies[j])
	})

	for _, def := range s.policies {
		if def.Enabled && def.Target.Type == TargetGlobal {
			s.global = def
			break
		}
	}
	if s.global == nil {
		return nil, ErrNoGlobalPolicy
	}

	return s, nil
}

// outranks orders policies by priority, then most recent update, then id.
func outranks(a, b *Definition) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Resolve returns the single policy applicable to the context. Policies are
// held in rank order, so the first enabled match wins. The default global
// policy is returned when nothing else matches.
func (s *Snapshot) Resolve(rc ResolveContext) *Definition {
	for _, def := range s.policies {
		if def.Enabled && def.Target.Matches(rc) {
			return def
		}
	}
	return s.global
}

// Global returns the default global policy.
func (s *Snapshot) Global() *Definition {
	return s.global
}

// Get returns a policy by id.
func (s *Snapshot) Get(id string) (*Definition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// Policies returns the policies in rank order. The slice is a copy; the
// definitions are shared and must not be modified.
func (s *Snapshot) Policies() []*Definition {
	return append([]*Definition(nil), s.policies...)
}

// Len returns the number of policies, enabled or not.
func (s *Snapshot) Len() int {
	return len(s.policies)
}

// WithPolicy returns a copy of the snapshot with def added or replacing the
// policy of the same id. The result is not validated; it exists for what-if
// evaluation and never becomes live.
func (s *Snapshot) WithPolicy(def *Definition) (*Snapshot, error) {
	defs := make([]*Definition, 0, len(s.policies)+1)
	replaced := false
	for _, existing := range s.policies {
		if existing.ID == def.ID {
			defs = append(defs, def)
			replaced = true
			continue
		}
		defs = append(defs, existing)
	}
	if !replaced {
		defs = append(defs, def)
	}
	return NewSnapshot(s.Version, defs, s.LoadedAt)
}

// Store holds the live snapshot. Reads are lock-free; writes validate the
// full resulting set and swap it in atomically.
type Store struct {
	current   atomic.Pointer[Snapshot]
	mu        sync.Mutex
	validator *Validator
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewStore creates a store seeded with the given definitions.
func NewStore(defs []*Definition, validator *Validator, clock clockwork.Clock) (*Store, error) {
	if validator == nil {
		validator = NewValidator(nil, false)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Store{
		validator: validator,
		clock:     clock,
		logger:    slog.Default().With("component", "policy.store"),
	}
	if err := s.Replace(defs); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Resolve resolves a context against the current snapshot.
func (s *Store) Resolve(rc ResolveContext) *Definition {
	return s.current.Load().Resolve(rc)
}

// Replace swaps in a new policy set. The previous snapshot stays live when
// validation fails.
func (s *Store) Replace(defs []*Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	stamped := make([]*Definition, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			stamped = append(stamped, nil)
			continue
		}
		c := def.Clone()
		stampTimes(c, nil, now)
		stamped = append(stamped, c)
	}
	return s.swapLocked(stamped)
}

// Upsert adds a policy or replaces the one with the same id.
func (s *Store) Upsert(def *Definition) error {
	if def == nil {
		return s.validator.Validate(nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	c := def.Clone()
	prev, _ := cur.Get(def.ID)
	stampTimes(c, prev, s.clock.Now())

	defs := make([]*Definition, 0, cur.Len()+1)
	replaced := false
	for _, existing := range cur.policies {
		if existing.ID == c.ID {
			defs = append(defs, c)
			replaced = true
			continue
		}
		defs = append(defs, existing)
	}
	if !replaced {
		defs = append(defs, c)
	}
	return s.swapLocked(defs)
}

// Disable marks a policy as disabled.
func (s *Store) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	prev, ok := cur.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}

	c := prev.Clone()
	c.Enabled = false
	c.UpdatedAt = s.clock.Now()

	defs := make([]*Definition, 0, cur.Len())
	for _, existing := range cur.policies {
		if existing.ID == id {
			defs = append(defs, c)
			continue
		}
		defs = append(defs, existing)
	}
	return s.swapLocked(defs)
}

func (s *Store) swapLocked(defs []*Definition) error {
	if err := s.validator.ValidateSet(defs); err != nil {
		return err
	}

	var version uint64 = 1
	if cur := s.current.Load(); cur != nil {
		version = cur.Version + 1
	}

	snap, err := NewSnapshot(version, defs, s.clock.Now())
	if err != nil {
		return err
	}
	s.current.Store(snap)

	s.logger.Info("policy snapshot swapped",
		"version", snap.Version,
		"policies", snap.Len(),
		"global_policy", snap.global.ID,
	)
	return nil
}

func stampTimes(def, prev *Definition, now time.Time) {
	if def.CreatedAt.IsZero() {
		if prev != nil {
			def.CreatedAt = prev.CreatedAt
		} else {
			def.CreatedAt = now
		}
	}
	if def.UpdatedAt.IsZero() || prev != nil {
		def.UpdatedAt = now
	}
}

// StaticSource serves a fixed snapshot.
type StaticSource struct {
	snap *Snapshot
}

// NewStaticSource wraps a snapshot.
func NewStaticSource(snap *Snapshot) *StaticSource {
	return &StaticSource{snap: snap}
}

// Snapshot returns the wrapped snapshot.
func (s *StaticSource) Snapshot() *Snapshot {
	return s.snap
}
