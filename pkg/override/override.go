// Package override manages time-bounded human overrides of governance
// decisions.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

var (
	// ErrInvalidTTL indicates a non-positive or too long TTL.
	ErrInvalidTTL = errors.New("override ttl must be between 1 minute and the configured maximum")

	// ErrNotFound indicates an unknown override id.
	ErrNotFound = errors.New("override not found")
)

// DefaultMaxTTL caps how long a single override can last.
const DefaultMaxTTL = 7 * 24 * time.Hour

// Override lets a human unblock a target and feature for a limited time.
// It is active only while now < ExpiresAt and is never extended.
type Override struct {
	ID        string         `json:"id"`
	Target    policy.Target  `json:"target"`
	Feature   policy.Feature `json:"feature"`
	GrantedBy string         `json:"granted_by,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	RevokedAt *time.Time     `json:"revoked_at,omitempty"`
}

// ActiveAt reports whether the override applies at t.
func (o *Override) ActiveAt(t time.Time) bool {
	if o.RevokedAt != nil && !t.Before(*o.RevokedAt) {
		return false
	}
	return !t.Before(o.CreatedAt) && t.Before(o.ExpiresAt)
}

// Grant describes a new override.
type Grant struct {
	Target     policy.Target
	Feature    policy.Feature
	TTLMinutes int
	GrantedBy  string
	Reason     string
}

// Store holds overrides in memory.
type Store struct {
	mu        sync.RWMutex
	overrides map[string]*Override
	clock     clockwork.Clock
	maxTTL    time.Duration
	logger    *slog.Logger
}

// NewStore creates an override store. A zero maxTTL selects DefaultMaxTTL.
func NewStore(clock clockwork.Clock, maxTTL time.Duration) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	return &Store{
		overrides: make(map[string]*Override),
		clock:     clock,
		maxTTL:    maxTTL,
		logger:    slog.Default().With("component", "override.store"),
	}
}

// Grant creates an override expiring TTLMinutes from now.
func (s *Store) Grant(ctx context.Context, g Grant) (*Override, error) {
	ttl := time.Duration(g.TTLMinutes) * time.Minute
	if g.TTLMinutes <= 0 || ttl > s.maxTTL {
		return nil, fmt.Errorf("%w: got %d minutes", ErrInvalidTTL, g.TTLMinutes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	o := &Override{
		ID:        uuid.New().String(),
		Target:    g.Target,
		Feature:   g.Feature,
		GrantedBy: g.GrantedBy,
		Reason:    g.Reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.overrides[o.ID] = o
	s.mu.Unlock()

	s.logger.Info("override granted",
		"override_id", o.ID,
		"target", o.Target.Key(),
		"feature", o.Feature,
		"expires_at", o.ExpiresAt,
		"granted_by", o.GrantedBy,
	)

	c := *o
	return &c, nil
}

// Active returns the active override for target and feature, if any. When
// several are active the one expiring last is returned.
func (s *Store) Active(target policy.Target, feature policy.Feature) (*Override, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Override
	for _, o := range s.overrides {
		if !o.Target.Equal(target) || o.Feature != feature || !o.ActiveAt(now) {
			continue
		}
		if best == nil || o.ExpiresAt.After(best.ExpiresAt) {
			best = o
		}
	}
	if best == nil {
		return nil, false
	}
	c := *best
	return &c, true
}

// IsActive reports whether an override is active for target and feature.
func (s *Store) IsActive(target policy.Target, feature policy.Feature) bool {
	_, ok := s.Active(target, feature)
	return ok
}

// Revoke ends an override immediately.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := s.clock.Now()
	o.RevokedAt = &now
	s.logger.Info("override revoked", "override_id", id)
	return nil
}

// List returns active overrides, or every retained override when all is
// set, ordered by creation time.
func (s *Store) List(all bool) []*Override {
	now := s.clock.Now()

	s.mu.RLock()
	out := make([]*Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		if all || o.ActiveAt(now) {
			c := *o
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CountActive returns the number of active overrides.
func (s *Store) CountActive() int {
	return len(s.List(false))
}

// Prune drops overrides that ended before now minus keep.
func (s *Store) Prune(keep time.Duration) int {
	cutoff := s.clock.Now().Add(-keep)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, o := range s.overrides {
		end := o.ExpiresAt
		if o.RevokedAt != nil && o.RevokedAt.Before(end) {
			end = *o.RevokedAt
		}
		if end.Before(cutoff) {
			delete(s.overrides, id)
			n++
		}
	}
	return n
}
