package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType classifies a governance event.
type EventType string

const (
	// TypeDecisionMade is appended for every guarded action once it finishes.
	TypeDecisionMade EventType = "decision_made"

	// TypeWarningIssued is appended when a guarded action proceeds on WARN.
	TypeWarningIssued EventType = "warning_issued"

	// TypeOverrideApplied is appended when a human override is granted.
	TypeOverrideApplied EventType = "override_applied"

	// TypeIncidentOccurred records an incident, usually referencing a decision.
	TypeIncidentOccurred EventType = "incident_occurred"

	// TypeInterventionApplied records a manual intervention.
	TypeInterventionApplied EventType = "intervention_applied"

	// TypeEscalationTriggered is appended when an action needs manual approval.
	TypeEscalationTriggered EventType = "escalation_triggered"
)

// Source identifies who produced an event.
type Source string

const (
	SourceAutomation Source = "automation"
	SourceHuman      Source = "human"
)

// Well-known keys in Event.Data.
const (
	DataDecision         = "decision"
	DataPolicyID         = "policy_id"
	DataPolicyVersion    = "policy_version"
	DataTarget           = "target"
	DataEntityID         = "entity_id"
	DataLocale           = "locale"
	DataReasons          = "reasons"
	DataOverride         = "override"
	DataOverrideID       = "override_id"
	DataRelatedEvent     = "event_id"
	DataError            = "error"
	DataActions          = "actions"
	DataSpend            = "spend"
	DataDBWrites         = "db_writes"
	DataContentMutations = "content_mutations"
	DataDurationMs       = "duration_ms"
	DataDescription      = "description"
)

// Outcome describes the consequences of an action once they are known.
type Outcome struct {
	Resolved       bool          `json:"resolved"`
	HadIncident    bool          `json:"had_incident"`
	WasReverted    bool          `json:"was_reverted"`
	DegradedSystem bool          `json:"degraded_system"`
	Latency        time.Duration `json:"latency"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// OutcomePatch sets a subset of outcome fields. Nil fields keep their
// current value.
type OutcomePatch struct {
	Resolved       *bool          `json:"resolved,omitempty"`
	HadIncident    *bool          `json:"had_incident,omitempty"`
	WasReverted    *bool          `json:"was_reverted,omitempty"`
	DegradedSystem *bool          `json:"degraded_system,omitempty"`
	Latency        *time.Duration `json:"latency,omitempty"`
}

// Apply merges the patch into o, which may be nil.
func (p OutcomePatch) Apply(o *Outcome) *Outcome {
	out := Outcome{}
	if o != nil {
		out = *o
	}
	if p.Resolved != nil {
		out.Resolved = *p.Resolved
	}
	if p.HadIncident != nil {
		out.HadIncident = *p.HadIncident
	}
	if p.WasReverted != nil {
		out.WasReverted = *p.WasReverted
	}
	if p.DegradedSystem != nil {
		out.DegradedSystem = *p.DegradedSystem
	}
	if p.Latency != nil {
		out.Latency = *p.Latency
	}
	return &out
}

// IsZero reports whether the patch sets nothing.
func (p OutcomePatch) IsZero() bool {
	return p.Resolved == nil && p.HadIncident == nil && p.WasReverted == nil &&
		p.DegradedSystem == nil && p.Latency == nil
}

// Event is an immutable governance event. Only Outcome may change after the
// event is appended; Version increases with every outcome update.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    Source         `json:"source"`
	Feature   string         `json:"feature"`
	Action    string         `json:"action,omitempty"`
	Team      string         `json:"team,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Outcome   *Outcome       `json:"outcome,omitempty"`
	Version   int64          `json:"version"`
}

// Clone returns a copy that shares nothing mutable with e.
func (e *Event) Clone() *Event {
	c := *e
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	if e.Outcome != nil {
		o := *e.Outcome
		c.Outcome = &o
	}
	return &c
}

// DataString returns a data value as a string, or "" when absent.
func (e *Event) DataString(key string) string {
	if s, ok := e.Data[key].(string); ok {
		return s
	}
	return ""
}

// Int returns a numeric data value. Values decoded from JSON arrive as
// float64 or json.Number, so every numeric form is accepted.
func (e *Event) Int(key string) int64 {
	switch v := e.Data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// Bool returns a boolean data value.
func (e *Event) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Strings returns a list data value. Lists decoded from JSON arrive as []any.
func (e *Event) Strings(key string) []string {
	switch v := e.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// HasString reports whether the list under key contains s.
func (e *Event) HasString(key, s string) bool {
	for _, v := range e.Strings(key) {
		if v == s {
			return true
		}
	}
	return false
}

// Query filters events. Zero fields match everything.
type Query struct {
	IDs     []string
	Types   []EventType
	Feature string
	Action  string
	Team    string
	Since   time.Time
	Until   time.Time

	// OnlyWithOutcome restricts results to events with an outcome attached.
	OnlyWithOutcome bool

	// Descending returns newest first. The default is oldest first.
	Descending bool

	Limit  int
	Offset int
}

// Matches reports whether e satisfies every filter except pagination.
func (q *Query) Matches(e *Event) bool {
	if q == nil {
		return true
	}
	if len(q.IDs) > 0 && !contains(q.IDs, e.ID) {
		return false
	}
	if len(q.Types) > 0 && !contains(q.Types, e.Type) {
		return false
	}
	if q.Feature != "" && e.Feature != q.Feature {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.Team != "" && e.Team != q.Team {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	if q.OnlyWithOutcome && e.Outcome == nil {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Store is an append-only event log.
type Store interface {
	// Append persists a new event. The event id must be unique.
	Append(ctx context.Context, e *Event) error

	// Get returns an event by id or ErrNotFound.
	Get(ctx context.Context, id string) (*Event, error)

	// Query returns events matching q ordered by timestamp.
	Query(ctx context.Context, q *Query) ([]*Event, error)

	// Count returns the number of events matching q, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	// UpdateOutcome replaces the outcome of an event if its version still
	// equals expectedVersion, and returns ErrVersionConflict otherwise.
	UpdateOutcome(ctx context.Context, id string, outcome *Outcome, expectedVersion int64) error

	// DeleteBefore removes events older than before.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// Appender is the write side of a Store used by hot paths.
type Appender interface {
	Append(ctx context.Context, e *Event) error
}
