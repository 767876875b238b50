package governance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	evstorage "github.com/KBRglobal/travi-final-website-sub012/pkg/events/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/guard"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/risk"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/scheduler"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/simulate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Wednesday 2026-01-07 10:00 UTC.
var wednesday = time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

func globalPolicy() *policy.Definition {
	return &policy.Definition{
		ID:             "global-default",
		Name:           "Global default",
		Target:         policy.GlobalTarget(),
		Enabled:        true,
		AllowedActions: []policy.Action{policy.AnyAction},
		BlockedActions: []policy.Action{"db_delete"},
		Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: 1000}},
		Approval:       policy.ApprovalAuto,
	}
}

func publishingPolicy(dailyCap int64) *policy.Definition {
	return &policy.Definition{
		ID:             "publishing",
		Name:           "Content publishing",
		Target:         policy.FeatureTarget("content_publishing"),
		Enabled:        true,
		Priority:       500,
		AllowedActions: []policy.Action{"content_update"},
		Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: dailyCap}},
		Approval:       policy.ApprovalAuto,
	}
}

func translationPolicy() *policy.Definition {
	return &policy.Definition{
		ID:             "translation",
		Name:           "Translation review",
		Target:         policy.FeatureTarget("translation"),
		Enabled:        true,
		Priority:       100,
		AllowedActions: []policy.Action{"translate"},
		Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: 100}},
		Approval:       policy.ApprovalReview,
	}
}

type fixture struct {
	core  *Core
	clock *clockwork.FakeClock
	store events.Store
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(cfg)
	}

	clock := clockwork.NewFakeClockAt(wednesday)
	store := evstorage.NewMemoryStorage()
	core, err := New(context.Background(), cfg, Backends{
		Ledger: storage.NewMemoryBackend(0),
		Events: store,
	}, Options{
		Clock:    clock,
		Policies: []*policy.Definition{globalPolicy(), publishingPolicy(10), translationPolicy()},
	})
	if err != nil {
		t.Fatalf("Failed to create core: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })
	return &fixture{core: core, clock: clock, store: store}
}

func noop(context.Context) (ledger.Deltas, error) { return ledger.Deltas{}, nil }

func req(feature policy.Feature, action policy.Action) *decision.Request {
	return &decision.Request{Feature: feature, Action: action, Team: "editorial"}
}

func TestCore_PublishingBudgetScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		exec, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop)
		if err != nil {
			t.Fatalf("Expected action %d to be allowed, got %v", i+1, err)
		}
		if exec.Decision.Outcome != decision.OutcomeAllow {
			t.Fatalf("Expected ALLOW for action %d, got %s", i+1, exec.Decision.Outcome)
		}
	}

	_, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop)
	blocked, ok := guard.IsBlocked(err)
	if !ok {
		t.Fatalf("Expected BlockedError, got %v", err)
	}
	if !blocked.Decision.HasReason(decision.ReasonBudgetExhausted) {
		t.Errorf("Expected %s, got %+v", decision.ReasonBudgetExhausted, blocked.Reasons)
	}
	if blocked.RetryAfter <= 0 || blocked.RetryAfter > 24*time.Hour {
		t.Errorf("Expected retry after within a day, got %v", blocked.RetryAfter)
	}

	a, err := f.core.RiskAssessment(ctx, risk.Scope{})
	if err != nil {
		t.Fatalf("RiskAssessment failed: %v", err)
	}
	found := false
	for _, factor := range a.Factors {
		if factor.Name == string(risk.EventBudgetExceeded) && factor.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected one budget_exceeded risk factor, got %+v", a.Factors)
	}
}

func TestCore_GuardWithFallbackServesDegradedResponse(t *testing.T) {
	f := newFixture(t, nil)

	exec, err := f.core.GuardWithFallback(context.Background(), req("content_publishing", "db_delete"), noop, "cached page")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if exec.Degraded == nil || !exec.Degraded.IsDegraded {
		t.Fatalf("Expected degraded response, got %+v", exec)
	}
	if exec.Degraded.Fallback != "cached page" {
		t.Errorf("Expected fallback to be served, got %v", exec.Degraded.Fallback)
	}
}

func TestCore_OverrideLiftsBudget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop); err != nil {
			t.Fatalf("Guard failed: %v", err)
		}
	}

	o, err := f.core.GrantOverride(ctx, override.Grant{
		Target:     policy.FeatureTarget("content_publishing"),
		Feature:    "content_publishing",
		TTLMinutes: 60,
		GrantedBy:  "ops@example.com",
		Reason:     "launch day",
	})
	if err != nil {
		t.Fatalf("GrantOverride failed: %v", err)
	}
	if got := len(f.core.Overrides(false)); got != 1 {
		t.Errorf("Expected 1 active override, got %d", got)
	}

	exec, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop)
	if err != nil {
		t.Fatalf("Expected override to lift the budget block, got %v", err)
	}
	if !exec.Decision.OverrideActive {
		t.Error("Expected decision to carry the override")
	}

	if err := f.core.RevokeOverride(o.ID); err != nil {
		t.Fatalf("RevokeOverride failed: %v", err)
	}
	if _, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop); err == nil {
		t.Error("Expected block after revoking the override")
	}
}

func TestCore_OverrideLiftsApproval(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.core.GrantOverride(ctx, override.Grant{
		Target:     policy.FeatureTarget("translation"),
		Feature:    "translation",
		TTLMinutes: 60,
		GrantedBy:  "ops@example.com",
	}); err != nil {
		t.Fatalf("GrantOverride failed: %v", err)
	}

	exec, err := f.core.Guard(ctx, req("translation", "translate"), noop)
	if err != nil {
		t.Fatalf("Guard failed: %v", err)
	}
	if exec.Decision.Outcome != decision.OutcomeAllow || !exec.Decision.OverrideActive {
		t.Errorf("Expected an overridden ALLOW, got %s (override %v)", exec.Decision.Outcome, exec.Decision.OverrideActive)
	}
	e, err := f.store.Get(ctx, exec.EventID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !e.Bool(events.DataOverride) {
		t.Error("Expected the decision event to record the override")
	}

	rep, err := f.core.AutonomyImpact(ctx, 0)
	if err != nil {
		t.Fatalf("AutonomyImpact failed: %v", err)
	}
	if rep.Total != 1 || rep.Autonomous != 0 || rep.Overridden != 1 {
		t.Errorf("Expected 1 overridden and 0 autonomous actions, got %+v", rep.FeatureAutonomy)
	}

	f.clock.Advance(time.Minute)
	res, err := f.core.Simulate(ctx, translationPolicy(), simulate.Window{})
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if res.RecordsProcessed != 1 || res.DecisionsChanged != 0 {
		t.Errorf("Expected the unchanged policy to reproduce history, got %d records and %d changes", res.RecordsProcessed, res.DecisionsChanged)
	}
}

func TestCore_GrantOverrideRejectsUnknownFeature(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.core.GrantOverride(context.Background(), override.Grant{
		Target:     policy.GlobalTarget(),
		Feature:    "teleportation",
		TTLMinutes: 10,
	})
	if !errors.Is(err, decision.ErrUnknownFeature) {
		t.Errorf("Expected ErrUnknownFeature, got %v", err)
	}
}

func TestCore_IncidentRaisesRisk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	exec, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop)
	if err != nil {
		t.Fatalf("Guard failed: %v", err)
	}

	before, err := f.core.RiskAssessment(ctx, risk.Scope{})
	if err != nil {
		t.Fatalf("RiskAssessment failed: %v", err)
	}

	inc, err := f.core.RecordIncident(ctx, Incident{EventID: exec.EventID, Description: "broken layout published"})
	if err != nil {
		t.Fatalf("RecordIncident failed: %v", err)
	}
	if inc.DataString(events.DataRelatedEvent) != exec.EventID {
		t.Errorf("Expected incident to reference %s, got %q", exec.EventID, inc.DataString(events.DataRelatedEvent))
	}
	if inc.Feature != "content_publishing" || inc.Team != "editorial" {
		t.Errorf("Expected feature and team copied from the decision, got %q/%q", inc.Feature, inc.Team)
	}

	decisionEvent, err := f.store.Get(ctx, exec.EventID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if decisionEvent.Outcome == nil || !decisionEvent.Outcome.HadIncident {
		t.Errorf("Expected decision outcome to record the incident, got %+v", decisionEvent.Outcome)
	}

	after, err := f.core.RiskAssessment(ctx, risk.Scope{})
	if err != nil {
		t.Fatalf("RiskAssessment failed: %v", err)
	}
	if after.Score <= before.Score {
		t.Errorf("Expected risk to rise after the incident, got %v then %v", before.Score, after.Score)
	}
}

func TestCore_RecordIncidentValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.core.RecordIncident(ctx, Incident{Description: "no subject"}); !errors.Is(err, ErrNoIncidentSubject) {
		t.Errorf("Expected ErrNoIncidentSubject, got %v", err)
	}
	if _, err := f.core.RecordIncident(ctx, Incident{EventID: "missing"}); !errors.Is(err, events.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	standalone, err := f.core.RecordIncident(ctx, Incident{Feature: "translation", Description: "glossary drift"})
	if err != nil {
		t.Fatalf("RecordIncident failed: %v", err)
	}
	if _, err := f.core.RecordIncident(ctx, Incident{EventID: standalone.ID}); !errors.Is(err, ErrNoDecision) {
		t.Errorf("Expected ErrNoDecision, got %v", err)
	}
}

func TestCore_RecordOutcome(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	exec, err := f.core.Guard(ctx, req("translation", "translate"), noop)
	if err != nil {
		t.Fatalf("Guard failed: %v", err)
	}

	if _, err := f.core.RecordOutcome(ctx, exec.EventID, events.OutcomePatch{}); !errors.Is(err, ErrEmptyOutcome) {
		t.Errorf("Expected ErrEmptyOutcome, got %v", err)
	}

	reverted := true
	e, err := f.core.RecordOutcome(ctx, exec.EventID, events.OutcomePatch{WasReverted: &reverted})
	if err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if !e.Outcome.WasReverted || !e.Outcome.Resolved {
		t.Errorf("Expected reverted outcome merged with resolved, got %+v", e.Outcome)
	}
}

func TestCore_RecordRiskEvent(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.core.RecordRiskEvent(risk.Event{Type: risk.EventNearMiss}); !errors.Is(err, ErrInvalidRiskEvent) {
		t.Errorf("Expected ErrInvalidRiskEvent, got %v", err)
	}
	err := f.core.RecordRiskEvent(risk.Event{
		Type:   risk.EventWarningIgnored,
		Target: risk.Target{Kind: risk.TargetTeam, ID: "editorial"},
	})
	if err != nil {
		t.Fatalf("RecordRiskEvent failed: %v", err)
	}

	a, err := f.core.RiskAssessment(context.Background(), risk.Scope{})
	if err != nil {
		t.Fatalf("RiskAssessment failed: %v", err)
	}
	if a.Score <= 0 {
		t.Errorf("Expected positive risk score, got %v", a.Score)
	}
}

func TestCore_AutonomyImpactAndStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop); err != nil {
			t.Fatalf("Guard failed: %v", err)
		}
	}
	if _, err := f.core.Guard(ctx, req("translation", "translate"), noop); err != nil {
		t.Fatalf("Guard failed: %v", err)
	}
	if _, err := f.core.Guard(ctx, req("content_publishing", "db_delete"), noop); err == nil {
		t.Fatal("Expected db_delete to be blocked")
	}

	rep, err := f.core.AutonomyImpact(ctx, 0)
	if err != nil {
		t.Fatalf("AutonomyImpact failed: %v", err)
	}
	if rep.Total != 5 || rep.Autonomous != 3 || rep.Warned != 1 || rep.Blocked != 1 {
		t.Errorf("Expected 5 total, 3 autonomous, 1 warned, 1 blocked; got %+v", rep.FeatureAutonomy)
	}
	if rep.Rate != 0.6 {
		t.Errorf("Expected autonomy rate 0.6, got %v", rep.Rate)
	}
	if len(rep.Features) != 2 || rep.Features[0].Feature != "content_publishing" {
		t.Errorf("Expected per-feature breakdown sorted by name, got %+v", rep.Features)
	}
	if rep.Features[1].DisplayName != "Translation" {
		t.Errorf("Expected display name Translation, got %q", rep.Features[1].DisplayName)
	}
	if !strings.Contains(rep.Answer, "60% of 5 actions") {
		t.Errorf("Unexpected answer: %s", rep.Answer)
	}

	st, err := f.core.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Decisions.Allow != 3 || st.Decisions.Warn != 1 || st.Decisions.Block != 1 || st.Decisions.Total != 5 {
		t.Errorf("Unexpected decision counts: %+v", st.Decisions)
	}
	if !st.Enabled || st.Policies != 3 || st.EnabledPolicies != 3 {
		t.Errorf("Unexpected policy summary: %+v", st)
	}
	if st.Risk == nil {
		t.Error("Expected risk assessment in status")
	}
	if len(st.Jobs) != 6 {
		t.Errorf("Expected 6 registered jobs, got %d", len(st.Jobs))
	}

	f.clock.Advance(25 * time.Hour)
	rep, err = f.core.AutonomyImpact(ctx, 0)
	if err != nil {
		t.Fatalf("AutonomyImpact failed: %v", err)
	}
	if rep.Total != 0 || !strings.HasPrefix(rep.Answer, "No guarded actions") {
		t.Errorf("Expected empty window after a day, got %+v", rep)
	}
}

func TestCore_PolicyAdministration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	v0 := f.core.Policies().Version

	if err := f.core.UpsertPolicy(publishingPolicy(1)); err != nil {
		t.Fatalf("UpsertPolicy failed: %v", err)
	}
	if f.core.Policies().Version <= v0 {
		t.Error("Expected policy version to increase")
	}

	if _, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop); err != nil {
		t.Fatalf("Guard failed: %v", err)
	}
	if _, err := f.core.Guard(ctx, req("content_publishing", "content_update"), noop); err == nil {
		t.Error("Expected the lowered cap to block the second action")
	}

	invalid := publishingPolicy(1)
	invalid.Approval = "sometimes"
	var verr *policy.ValidationError
	if err := f.core.UpsertPolicy(invalid); !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError, got %v", err)
	}

	if err := f.core.DisablePolicy("publishing"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	d, err := f.core.Evaluate(ctx, req("content_publishing", "content_update"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.MatchedPolicyID != "global-default" {
		t.Errorf("Expected fallback to the global policy, got %q", d.MatchedPolicyID)
	}

	if err := f.core.ReloadPolicies(ctx); !errors.Is(err, ErrNoPolicySource) {
		t.Errorf("Expected ErrNoPolicySource, got %v", err)
	}
}

func TestCore_SimulateIsThrottled(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Simulator.MaxConcurrent = 1
		cfg.Simulator.RequestsPerMinute = 1
	})
	ctx := context.Background()

	res, err := f.core.Simulate(ctx, publishingPolicy(20), simulate.Window{})
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if !res.Window.Until.Equal(wednesday) || !res.Window.Since.Equal(wednesday.Add(-DefaultSimulationWindow)) {
		t.Errorf("Expected default seven day window, got %+v", res.Window)
	}

	if _, err := f.core.Simulate(ctx, publishingPolicy(20), simulate.Window{}); !errors.Is(err, ErrThrottled) {
		t.Errorf("Expected ErrThrottled, got %v", err)
	}
}

func TestCore_RunJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.core.RunJob(ctx, JobOverridePrune); err != nil {
		t.Errorf("RunJob failed: %v", err)
	}
	if err := f.core.RunJob(ctx, "compaction"); !errors.Is(err, scheduler.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestCore_Explain(t *testing.T) {
	f := newFixture(t, nil)

	d, err := f.core.Evaluate(context.Background(), req("content_publishing", "db_delete"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	text, err := f.core.Explain(d, explain.AudienceOperator)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if text == "" {
		t.Error("Expected a non-empty explanation")
	}
	if _, err := f.core.Explain(d, "board"); !errors.Is(err, explain.ErrUnknownAudience) {
		t.Errorf("Expected ErrUnknownAudience, got %v", err)
	}
}

const policyYAML = `
policies:
  - id: global-default
    name: Global default
    target: {type: global}
    enabled: true
    priority: 0
    allowed_actions: ["*"]
    approval: auto
    budgets:
      - {period: daily, max_actions: 2}
`

func TestOpen_LoadsPolicyFilesAndStarts(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "global.yaml"), []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Policy.Path = dir
	cfg.Policy.Watch = true
	cfg.Ledger.Backend = "memory"
	cfg.Events.Backend = "memory"

	ctx := context.Background()
	core, err := Open(ctx, cfg, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !core.Scheduler().IsRunning() {
		t.Error("Expected scheduler to be running")
	}

	d, err := core.Evaluate(ctx, req("translation", "translate"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.MatchedPolicyID != "global-default" {
		t.Errorf("Expected policy from file, got %q", d.MatchedPolicyID)
	}
	if err := core.ReloadPolicies(ctx); err != nil {
		t.Errorf("ReloadPolicies failed: %v", err)
	}

	if err := core.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := core.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}

func TestOpen_MissingPolicyPath(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Policy.Path = filepath.Join(t.TempDir(), "missing")
	cfg.Ledger.Backend = "memory"
	cfg.Events.Backend = "memory"

	if _, err := Open(context.Background(), cfg, Options{}); err == nil {
		t.Error("Expected error for a missing policy path")
	}
}

func TestOpen_UnsupportedBackend(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Ledger.Backend = "cassandra"

	if _, err := Open(context.Background(), cfg, Options{}); err == nil || !strings.Contains(err.Error(), "cassandra") {
		t.Errorf("Expected unsupported backend error, got %v", err)
	}
}
