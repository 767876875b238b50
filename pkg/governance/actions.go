package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/guard"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/risk"
)

// ErrEmptyOutcome is returned when an outcome update sets no field.
var ErrEmptyOutcome = errors.New("outcome sets no fields")

// Evaluate decides a request without running or recording anything.
func (c *Core) Evaluate(ctx context.Context, req *decision.Request) (*decision.Decision, error) {
	return c.engine.Evaluate(ctx, req)
}

// Guard evaluates req and runs work when it is allowed. A block is returned
// as a *guard.BlockedError.
func (c *Core) Guard(ctx context.Context, req *decision.Request, work guard.Work) (*guard.Execution, error) {
	exec, err := c.guard.Do(ctx, req, work)
	if blocked, ok := guard.IsBlocked(err); ok {
		c.noteBlock(req, blocked.Decision)
	}
	return exec, err
}

// GuardWithFallback behaves like Guard but serves fallback instead of
// returning an error when the action is blocked.
func (c *Core) GuardWithFallback(ctx context.Context, req *decision.Request, work guard.Work, fallback any) (*guard.Execution, error) {
	exec, err := c.guard.DoWithFallback(ctx, req, work, fallback)
	if err == nil && exec.Degraded != nil {
		c.noteBlock(req, exec.Decision)
	}
	return exec, err
}

// noteBlock records budget exhaustion as systemic risk.
func (c *Core) noteBlock(req *decision.Request, d *decision.Decision) {
	if d == nil || !d.HasReason(decision.ReasonBudgetExhausted) {
		return
	}
	c.riskLog.Record(risk.Event{
		Type:   risk.EventBudgetExceeded,
		Target: risk.Target{Kind: risk.TargetFeature, ID: string(req.Feature)},
		Context: risk.Context{
			Feature:        string(req.Feature),
			Team:           req.Team,
			DecisionSource: string(events.SourceAutomation),
			Description:    d.PrimaryReason().Message,
		},
		Timestamp: c.clock.Now(),
	})
}

// GrantOverride lets a human lift budget blocks and approval requirements
// for a target and feature for TTLMinutes.
func (c *Core) GrantOverride(ctx context.Context, grant override.Grant) (*override.Override, error) {
	if grant.Feature != "" && !c.registry.HasFeature(grant.Feature) {
		return nil, fmt.Errorf("%w: %s", decision.ErrUnknownFeature, grant.Feature)
	}
	return c.guard.GrantOverride(ctx, grant)
}

// RevokeOverride ends an override immediately.
func (c *Core) RevokeOverride(id string) error {
	return c.overrides.Revoke(id)
}

// Overrides lists active overrides, or every retained one when all is set.
func (c *Core) Overrides(all bool) []*override.Override {
	return c.overrides.List(all)
}

// RecordOutcome attaches outcome fields to an event, usually the
// decision_made event returned by Guard.
func (c *Core) RecordOutcome(ctx context.Context, eventID string, patch events.OutcomePatch) (*events.Event, error) {
	if patch.IsZero() {
		return nil, ErrEmptyOutcome
	}
	return events.AttachOutcome(ctx, c.events, eventID, patch, c.clock.Now(), c.cfg.Events.OutcomeRetries)
}

// Incident reports something that went wrong.
type Incident struct {
	// EventID references the decision_made event the incident followed.
	// Optional.
	EventID string `json:"event_id,omitempty"`

	// Feature is required when EventID is empty.
	Feature     string `json:"feature,omitempty"`
	Team        string `json:"team,omitempty"`
	Description string `json:"description"`

	Reverted bool `json:"reverted,omitempty"`
	Degraded bool `json:"degraded,omitempty"`
}

// RecordIncident appends an incident_occurred event. When the incident
// references a decision, the decision's outcome is marked as having had an
// incident.
func (c *Core) RecordIncident(ctx context.Context, inc Incident) (*events.Event, error) {
	var related *events.Event
	if inc.EventID != "" {
		e, err := c.events.Get(ctx, inc.EventID)
		if err != nil {
			return nil, err
		}
		if e.Type != events.TypeDecisionMade {
			return nil, fmt.Errorf("%w: %s is %s", ErrNoDecision, e.ID, e.Type)
		}
		related = e
		if inc.Feature == "" {
			inc.Feature = e.Feature
		}
		if inc.Team == "" {
			inc.Team = e.Team
		}
	}
	if inc.Feature == "" {
		return nil, ErrNoIncidentSubject
	}

	now := c.clock.Now()
	e := events.New(events.TypeIncidentOccurred, events.SourceHuman, inc.Feature, now)
	e.Team = inc.Team
	e.Data[events.DataDescription] = inc.Description
	if related != nil {
		e.Action = related.Action
		e.Data[events.DataRelatedEvent] = related.ID
	}
	if err := c.events.Append(ctx, e); err != nil {
		return nil, err
	}

	if related != nil {
		incident := true
		patch := events.OutcomePatch{HadIncident: &incident}
		if inc.Reverted {
			patch.WasReverted = &inc.Reverted
		}
		if inc.Degraded {
			patch.DegradedSystem = &inc.Degraded
		}
		if _, err := c.RecordOutcome(ctx, related.ID, patch); err != nil {
			return e, fmt.Errorf("incident recorded but decision outcome not updated: %w", err)
		}
	}

	c.logger.Warn("incident recorded",
		"event_id", e.ID,
		"feature", inc.Feature,
		"decision_event_id", inc.EventID,
	)
	return e, nil
}

// RecordRiskEvent adds an observation to the systemic risk log.
func (c *Core) RecordRiskEvent(e risk.Event) error {
	if e.Type == "" || e.Target.Kind == "" || e.Target.ID == "" {
		return ErrInvalidRiskEvent
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.clock.Now()
	}
	c.riskLog.Record(e)
	return nil
}

// Policies returns the live policy snapshot.
func (c *Core) Policies() *policy.Snapshot {
	return c.policies.Snapshot()
}

// UpsertPolicy validates and swaps in a new or changed policy.
func (c *Core) UpsertPolicy(def *policy.Definition) error {
	return c.policies.Upsert(def)
}

// DisablePolicy disables a policy by id.
func (c *Core) DisablePolicy(id string) error {
	return c.policies.Disable(id)
}

// ReloadPolicies reloads the policy files. The live snapshot is kept when
// the files are invalid.
func (c *Core) ReloadPolicies(ctx context.Context) error {
	if c.reloader == nil {
		return ErrNoPolicySource
	}
	return c.reloader.Reload(ctx)
}
