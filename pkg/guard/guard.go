package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Evaluator decides whether a request may proceed.
type Evaluator interface {
	Evaluate(ctx context.Context, req *decision.Request) (*decision.Decision, error)
}

// Budget reserves and corrects consumption.
type Budget interface {
	Reserve(ctx context.Context, target policy.Target, budgets []policy.BudgetLimit, deltas ledger.Deltas, feature policy.Feature, action policy.Action) (*ledger.HeadroomResult, error)
	ConsumeAll(ctx context.Context, target policy.Target, deltas ledger.Deltas, feature policy.Feature, action policy.Action) error
}

// Work is a guarded action. It returns the consumption it actually used;
// a zero value means the estimate was accurate.
type Work func(ctx context.Context) (ledger.Deltas, error)

// Execution describes a guarded call that was allowed to run, or a blocked
// call that was served a fallback.
type Execution struct {
	Decision *decision.Decision `json:"decision"`
	EventID  string             `json:"event_id"`
	Actual   ledger.Deltas      `json:"actual"`

	// Degraded is set when the action was blocked and a fallback served.
	Degraded *DegradedResponse `json:"degraded,omitempty"`
}

// DegradedResponse replaces a blocked action's result with a fallback.
type DegradedResponse struct {
	IsDegraded bool                `json:"is_degraded"`
	Reason     string              `json:"reason"`
	Code       decision.ReasonCode `json:"code"`
	Fallback   any                 `json:"fallback"`
	RetryAfter time.Duration       `json:"retry_after"`
}

// Deps are the collaborators of a Guard.
type Deps struct {
	Engine    Evaluator
	Policies  policy.SnapshotSource
	Ledger    Budget
	Overrides *override.Store

	// Log receives decision_made events synchronously so outcomes can be
	// attached as soon as Do returns.
	Log events.Appender

	// Recorder receives the other events off the request path. Defaults to
	// Log.
	Recorder events.Appender

	Clock  clockwork.Clock
	Tracer trace.Tracer
}

// Guard is the boundary every guarded feature calls through.
type Guard struct {
	engine    Evaluator
	policies  policy.SnapshotSource
	ledger    Budget
	overrides *override.Store
	log       events.Appender
	recorder  events.Appender
	clock     clockwork.Clock
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a guard.
func New(deps Deps) *Guard {
	if deps.Recorder == nil {
		deps.Recorder = deps.Log
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("governor/guard")
	}
	return &Guard{
		engine:    deps.Engine,
		policies:  deps.Policies,
		ledger:    deps.Ledger,
		overrides: deps.Overrides,
		log:       deps.Log,
		recorder:  deps.Recorder,
		clock:     deps.Clock,
		tracer:    deps.Tracer,
		logger:    slog.Default().With("component", "guard"),
	}
}

// Do evaluates req and runs work when allowed. A BLOCK returns a
// *BlockedError without running work. After work returns, success or not,
// the actual consumption is recorded and a decision_made event is
// appended; work's error is returned unchanged alongside the Execution.
func (g *Guard) Do(ctx context.Context, req *decision.Request, work Work) (*Execution, error) {
	return g.do(ctx, req, work, nil, false)
}

// DoWithFallback behaves like Do, except that a BLOCK returns an Execution
// carrying a DegradedResponse with fallback instead of an error.
func (g *Guard) DoWithFallback(ctx context.Context, req *decision.Request, work Work, fallback any) (*Execution, error) {
	return g.do(ctx, req, work, fallback, true)
}

func (g *Guard) do(ctx context.Context, req *decision.Request, work Work, fallback any, degrade bool) (*Execution, error) {
	ctx, span := g.tracer.Start(ctx, "guard.Do", trace.WithAttributes(
		attribute.String("governor.feature", string(req.Feature)),
		attribute.String("governor.action", string(req.Action)),
	))
	defer span.End()

	d, err := g.engine.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}

	reserved := ledger.Deltas{}
	if d.Outcome != decision.OutcomeBlock {
		reserved, err = g.reserve(ctx, req, d)
		if err != nil {
			g.failClosed(d, err)
		}
	}
	span.SetAttributes(attribute.String("governor.outcome", string(d.Outcome)))

	if d.Outcome == decision.OutcomeBlock {
		e := g.decisionEvent(req, d, ledger.Deltas{})
		g.appendDecision(ctx, e)

		if degrade {
			primary := d.PrimaryReason()
			return &Execution{
				Decision: d,
				EventID:  e.ID,
				Degraded: &DegradedResponse{
					IsDegraded: true,
					Reason:     primary.Message,
					Code:       primary.Code,
					Fallback:   fallback,
					RetryAfter: d.RetryAfter(),
				},
			}, nil
		}
		return nil, newBlockedError(d, e.ID)
	}

	if d.Outcome == decision.OutcomeWarn {
		g.emitWarning(ctx, req, d)
	}

	start := g.clock.Now()
	actual, workErr := work(ctx)
	latency := g.clock.Since(start)

	if actual.IsZero() {
		actual = reserved
	}
	if d.MatchedTarget.Type != "" && !d.HasReason(decision.ReasonGovernanceDisabled) {
		if correction := actual.Sub(reserved); !correction.IsZero() {
			if err := g.ledger.ConsumeAll(ctx, d.MatchedTarget, correction, req.Feature, req.Action); err != nil {
				g.logger.Error("failed to correct consumption",
					"feature", req.Feature,
					"action", req.Action,
					"error", err,
				)
			}
		}
	}

	e := g.decisionEvent(req, d, actual)
	e.Outcome = &events.Outcome{Resolved: workErr == nil, Latency: latency, RecordedAt: g.clock.Now()}
	if workErr != nil {
		e.Data[events.DataError] = workErr.Error()
	}
	g.appendDecision(ctx, e)

	return &Execution{Decision: d, EventID: e.ID, Actual: actual}, workErr
}

// reserve atomically claims the request's consumption. A reservation denied
// by a concurrent caller turns the decision into a budget block.
func (g *Guard) reserve(ctx context.Context, req *decision.Request, d *decision.Decision) (ledger.Deltas, error) {
	if d.HasReason(decision.ReasonGovernanceDisabled) {
		return ledger.Deltas{}, nil
	}

	deltas := req.Deltas()
	if d.OverrideActive {
		return deltas, g.ledger.ConsumeAll(ctx, d.MatchedTarget, deltas, req.Feature, req.Action)
	}

	var budgets []policy.BudgetLimit
	if g.policies != nil {
		if snap := g.policies.Snapshot(); snap != nil {
			if p, ok := snap.Get(d.MatchedPolicyID); ok {
				budgets = p.Budgets
			}
		}
	}

	res, err := g.ledger.Reserve(ctx, d.MatchedTarget, budgets, deltas, req.Feature, req.Action)
	if err != nil {
		return ledger.Deltas{}, err
	}
	if !res.HasRoom {
		d.Outcome = decision.OutcomeBlock
		d.Headroom = res
		d.Reasons = []decision.Reason{{
			Code:     decision.ReasonBudgetExhausted,
			Message:  "Budget was exhausted by concurrent actions before this one could reserve it.",
			Severity: decision.SeverityHigh,
		}}
		d.RetryAfterSeconds = int64((res.RetryAfter + time.Second - 1) / time.Second)
		return ledger.Deltas{}, nil
	}
	return deltas, nil
}

func (g *Guard) failClosed(d *decision.Decision, err error) {
	d.Outcome = decision.OutcomeBlock
	d.Cause = err
	d.RetryAfterSeconds = 0
	code := decision.ReasonGovernanceUnavailable
	msg := "Budget reservation failed; the action is blocked until governance recovers."
	if errors.Is(err, context.DeadlineExceeded) {
		code = decision.ReasonEvaluationTimeout
		msg = "Budget reservation timed out; the action is blocked."
	}
	d.Reasons = []decision.Reason{{Code: code, Message: msg, Severity: decision.SeverityCritical}}
	g.logger.Error("reservation failed closed", "feature", d.Feature, "action", d.Action, "error", err)
}

func (g *Guard) decisionEvent(req *decision.Request, d *decision.Decision, actual ledger.Deltas) *events.Event {
	e := events.New(events.TypeDecisionMade, events.SourceAutomation, string(req.Feature), g.clock.Now())
	e.Action = string(req.Action)
	e.Team = req.Team
	e.Data[events.DataDecision] = string(d.Outcome)
	e.Data[events.DataPolicyID] = d.MatchedPolicyID
	e.Data[events.DataPolicyVersion] = int64(d.PolicyVersion)
	e.Data[events.DataTarget] = d.MatchedTarget.Key()
	e.Data[events.DataReasons] = d.ReasonCodes()
	e.Data[events.DataOverride] = d.OverrideActive
	if req.EntityID != "" {
		e.Data[events.DataEntityID] = req.EntityID
	}
	if req.Locale != "" {
		e.Data[events.DataLocale] = req.Locale
	}

	requested := req.Deltas()
	if !actual.IsZero() {
		requested = actual
	}
	e.Data[events.DataActions] = requested.Actions
	e.Data[events.DataSpend] = requested.Spend
	e.Data[events.DataDBWrites] = requested.DBWrites
	e.Data[events.DataContentMutations] = requested.ContentMutations
	return e
}

func (g *Guard) appendDecision(ctx context.Context, e *events.Event) {
	if g.log == nil {
		return
	}
	if err := g.log.Append(ctx, e); err != nil {
		g.logger.Error("failed to append decision event", "event_id", e.ID, "error", err)
	}
}

func (g *Guard) emitWarning(ctx context.Context, req *decision.Request, d *decision.Decision) {
	now := g.clock.Now()

	warn := events.New(events.TypeWarningIssued, events.SourceAutomation, string(req.Feature), now)
	warn.Action = string(req.Action)
	warn.Team = req.Team
	warn.Data[events.DataPolicyID] = d.MatchedPolicyID
	warn.Data[events.DataReasons] = d.ReasonCodes()
	g.emit(ctx, warn)

	if d.Approval == policy.ApprovalManual {
		esc := events.New(events.TypeEscalationTriggered, events.SourceAutomation, string(req.Feature), now)
		esc.Action = string(req.Action)
		esc.Team = req.Team
		esc.Data[events.DataPolicyID] = d.MatchedPolicyID
		esc.Data[events.DataDescription] = "manual approval required"
		g.emit(ctx, esc)
	}
}

func (g *Guard) emit(ctx context.Context, e *events.Event) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Append(ctx, e); err != nil {
		g.logger.Warn("failed to record event", "event_id", e.ID, "event_type", e.Type, "error", err)
	}
}

// GrantOverride grants a human override and records override_applied.
func (g *Guard) GrantOverride(ctx context.Context, grant override.Grant) (*override.Override, error) {
	if g.overrides == nil {
		return nil, fmt.Errorf("overrides are not configured")
	}
	o, err := g.overrides.Grant(ctx, grant)
	if err != nil {
		return nil, err
	}

	e := events.New(events.TypeOverrideApplied, events.SourceHuman, string(grant.Feature), o.CreatedAt)
	e.Data[events.DataOverrideID] = o.ID
	e.Data[events.DataTarget] = o.Target.Key()
	e.Data[events.DataDescription] = o.Reason
	e.Data["ttl_minutes"] = int64(grant.TTLMinutes)
	e.Data["granted_by"] = o.GrantedBy
	g.emit(ctx, e)

	return o, nil
}
