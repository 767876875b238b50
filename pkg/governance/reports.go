package governance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events/recorder"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/learning"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/recommend"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/risk"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/scheduler"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/simulate"
)

// DefaultReportWindow is the window of the status and autonomy reports.
const DefaultReportWindow = 24 * time.Hour

// DefaultSimulationWindow is replayed when a simulation names no window.
const DefaultSimulationWindow = 7 * 24 * time.Hour

// OutcomeCounts tallies decisions by outcome.
type OutcomeCounts struct {
	Allow int64 `json:"allow"`
	Warn  int64 `json:"warn"`
	Block int64 `json:"block"`
	Total int64 `json:"total"`
}

func (o *OutcomeCounts) add(outcome string) {
	switch decision.Outcome(outcome) {
	case decision.OutcomeAllow:
		o.Allow++
	case decision.OutcomeWarn:
		o.Warn++
	case decision.OutcomeBlock:
		o.Block++
	default:
		return
	}
	o.Total++
}

// Status summarises the state of governance.
type Status struct {
	Enabled         bool   `json:"enabled"`
	PolicyVersion   uint64 `json:"policy_version"`
	Policies        int    `json:"policies"`
	EnabledPolicies int    `json:"enabled_policies"`

	Window    string        `json:"window"`
	Decisions OutcomeCounts `json:"decisions"`

	ActiveOverrides   int `json:"active_overrides"`
	OpenSignals       int `json:"open_signals"`
	DangerousPatterns int `json:"dangerous_patterns"`

	Risk     *risk.Assessment      `json:"risk"`
	Jobs     []scheduler.JobStatus `json:"jobs"`
	Recorder recorder.Stats        `json:"recorder"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Status reports policies, recent decisions, overrides, open drift signals
// and systemic risk.
func (c *Core) Status(ctx context.Context) (*Status, error) {
	now := c.clock.Now()
	snap := c.policies.Snapshot()

	st := &Status{
		Enabled:           c.cfg.Governance.IsEnabled(),
		PolicyVersion:     snap.Version,
		Policies:          snap.Len(),
		Window:            DefaultReportWindow.String(),
		ActiveOverrides:   c.overrides.CountActive(),
		OpenSignals:       len(c.drift.Signals().List(drift.Filter{OpenOnly: true})),
		DangerousPatterns: len(c.learning.DangerousPatterns()),
		Jobs:              c.scheduler.Status(),
		Recorder:          c.recorder.Stats(),
		GeneratedAt:       now,
	}
	for _, p := range snap.Policies() {
		if p.Enabled {
			st.EnabledPolicies++
		}
	}

	decisions, err := c.decisionsSince(ctx, now.Add(-DefaultReportWindow))
	if err != nil {
		return nil, err
	}
	for _, e := range decisions {
		st.Decisions.add(e.DataString(events.DataDecision))
	}

	st.Risk, err = c.assessor.Assess(ctx, risk.Scope{})
	if err != nil {
		return nil, fmt.Errorf("failed to assess risk: %w", err)
	}
	return st, nil
}

func (c *Core) decisionsSince(ctx context.Context, since time.Time) ([]*events.Event, error) {
	evs, err := c.events.Query(ctx, &events.Query{
		Types: []events.EventType{events.TypeDecisionMade},
		Since: since,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	return evs, nil
}

// FeatureAutonomy is the autonomy breakdown of one feature.
type FeatureAutonomy struct {
	Feature     string  `json:"feature"`
	DisplayName string  `json:"display_name"`
	Total       int64   `json:"total"`
	Autonomous  int64   `json:"autonomous"`
	Warned      int64   `json:"warned"`
	Blocked     int64   `json:"blocked"`
	Overridden  int64   `json:"overridden"`
	Rate        float64 `json:"autonomy_rate"`
}

func (f *FeatureAutonomy) add(e *events.Event) {
	f.Total++
	overridden := e.Bool(events.DataOverride)
	if overridden {
		f.Overridden++
	}
	switch decision.Outcome(e.DataString(events.DataDecision)) {
	case decision.OutcomeAllow:
		if !overridden {
			f.Autonomous++
		}
	case decision.OutcomeWarn:
		f.Warned++
	case decision.OutcomeBlock:
		f.Blocked++
	}
}

func (f *FeatureAutonomy) finish() {
	if f.Total > 0 {
		f.Rate = float64(f.Autonomous) / float64(f.Total)
	}
}

// AutonomyReport answers how much of the platform runs without humans: an
// action is autonomous when it was allowed without an override.
type AutonomyReport struct {
	Window string    `json:"window"`
	Since  time.Time `json:"since"`

	FeatureAutonomy
	Features []FeatureAutonomy `json:"features"`

	Answer string `json:"answer"`
}

// AutonomyImpact reports the share of guarded actions that ran without
// human involvement over window, and how many were blocked or warned.
func (c *Core) AutonomyImpact(ctx context.Context, window time.Duration) (*AutonomyReport, error) {
	if window <= 0 {
		window = DefaultReportWindow
	}
	since := c.clock.Now().Add(-window)
	decisions, err := c.decisionsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	rep := &AutonomyReport{Window: window.String(), Since: since}
	rep.Feature = "all"
	rep.DisplayName = "All features"
	byFeature := make(map[string]*FeatureAutonomy)
	for _, e := range decisions {
		rep.add(e)
		f, ok := byFeature[e.Feature]
		if !ok {
			f = &FeatureAutonomy{
				Feature:     e.Feature,
				DisplayName: c.registry.DisplayName(policy.Feature(e.Feature)),
			}
			byFeature[e.Feature] = f
		}
		f.add(e)
	}
	rep.finish()
	for _, f := range byFeature {
		f.finish()
		rep.Features = append(rep.Features, *f)
	}
	sort.Slice(rep.Features, func(i, j int) bool { return rep.Features[i].Feature < rep.Features[j].Feature })

	if rep.Total == 0 {
		rep.Answer = fmt.Sprintf("No guarded actions were recorded in the last %s.", window)
	} else {
		rep.Answer = fmt.Sprintf("%.0f%% of %d actions in the last %s ran without human involvement; %d were blocked and %d needed review.",
			rep.Rate*100, rep.Total, window, rep.Blocked, rep.Warned)
	}
	return rep, nil
}

// DangerousPatterns returns learned patterns with a high incident rate.
func (c *Core) DangerousPatterns() []*learning.Pattern {
	return c.learning.DangerousPatterns()
}

// Patterns returns every learned pattern, or those of feature when set.
func (c *Core) Patterns(feature string) []*learning.Pattern {
	if feature != "" {
		return c.learning.PatternsFor(feature)
	}
	return c.learning.Patterns()
}

// DriftSignals lists drift signals matching f.
func (c *Core) DriftSignals(f drift.Filter) []*drift.Signal {
	return c.drift.Signals().List(f)
}

// DriftSignal returns one drift signal.
func (c *Core) DriftSignal(id string) (*drift.Signal, error) {
	return c.drift.Signals().Get(id)
}

// AcknowledgeSignal moves a new signal to acknowledged.
func (c *Core) AcknowledgeSignal(id, by string) (*drift.Signal, error) {
	return c.drift.Signals().Acknowledge(id, by, c.clock.Now())
}

// ResolveSignal closes a signal as resolved.
func (c *Core) ResolveSignal(id, by, note string) (*drift.Signal, error) {
	return c.drift.Signals().Resolve(id, by, note, c.clock.Now())
}

// DismissSignal closes a signal as dismissed.
func (c *Core) DismissSignal(id, by, note string) (*drift.Signal, error) {
	return c.drift.Signals().Dismiss(id, by, note, c.clock.Now())
}

// Recommendations returns the budget recommendations from the last
// recommender run, leaving out withheld ones.
func (c *Core) Recommendations() []*recommend.Recommendation {
	return c.recommender.Latest()
}

// WithheldRecommendations returns how many recommendations the last run
// withheld for low confidence or too little data.
func (c *Core) WithheldRecommendations() int {
	return c.recommender.WithheldCount()
}

// Recommend computes a fresh recommendation for one feature.
func (c *Core) Recommend(ctx context.Context, feature string) (*recommend.Recommendation, error) {
	if !c.registry.HasFeature(policy.Feature(feature)) {
		return nil, fmt.Errorf("%w: %s", decision.ErrUnknownFeature, feature)
	}
	return c.recommender.Recommend(ctx, feature)
}

// Simulate replays recorded decisions against a hypothetical policy. A
// zero window replays the last seven days.
func (c *Core) Simulate(ctx context.Context, hypothetical *policy.Definition, window simulate.Window) (*simulate.Result, error) {
	if !c.onDemand.Allow() {
		return nil, ErrThrottled
	}
	if window.Since.IsZero() && window.Until.IsZero() {
		now := c.clock.Now()
		window = simulate.Window{Since: now.Add(-DefaultSimulationWindow), Until: now}
	}
	return c.simulator.Simulate(ctx, hypothetical, window)
}

// Explain renders a decision or drift signal for an audience.
func (c *Core) Explain(subject any, audience explain.Audience) (string, error) {
	return c.explainer.Explain(subject, audience)
}

// ExplainerStats reports explanation cache usage.
func (c *Core) ExplainerStats() explain.CacheStats {
	return c.explainer.Stats()
}

// RiskAssessment scores systemic risk within scope.
func (c *Core) RiskAssessment(ctx context.Context, scope risk.Scope) (*risk.Assessment, error) {
	return c.assessor.Assess(ctx, scope)
}

// Usage returns a target's consumption in every current period.
func (c *Core) Usage(ctx context.Context, target policy.Target) ([]ledger.PeriodStatus, error) {
	return c.ledger.Usage(ctx, target)
}

// RunJob runs a background job now and waits for it.
func (c *Core) RunJob(ctx context.Context, name string) error {
	if !c.onDemand.Allow() {
		return ErrThrottled
	}
	return c.scheduler.RunNow(ctx, name)
}
