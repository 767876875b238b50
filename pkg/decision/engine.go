package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 5 * time.Second

// HeadroomChecker answers whether a target can absorb a request.
type HeadroomChecker interface {
	CheckHeadroom(ctx context.Context, target policy.Target, budgets []policy.BudgetLimit, deltas ledger.Deltas) (*ledger.HeadroomResult, error)
}

// OverrideChecker reports active human overrides.
type OverrideChecker interface {
	IsActive(target policy.Target, feature policy.Feature) bool
}

// Config configures an Engine.
type Config struct {
	// Enabled turns governance on. A disabled engine allows everything.
	Enabled bool

	// Timeout bounds each evaluation (default: 5s).
	Timeout time.Duration
}

// DefaultConfig returns an enabled engine configuration.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Timeout: DefaultTimeout}
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Registry  *policy.Registry
	Overrides OverrideChecker
	Clock     clockwork.Clock
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Engine turns a request into an ALLOW, WARN or BLOCK decision.
//
// Evaluation reads one policy snapshot and never consumes budget, so
// evaluating the same request twice without consumption in between gives
// the same decision.
type Engine struct {
	config    *Config
	policies  policy.SnapshotSource
	budget    HeadroomChecker
	overrides OverrideChecker
	registry  *policy.Registry
	clock     clockwork.Clock
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewEngine creates a decision engine.
func NewEngine(config *Config, policies policy.SnapshotSource, budget HeadroomChecker, opts Options) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if opts.Registry == nil {
		opts.Registry = policy.DefaultRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("governor/decision")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "decision.engine")
	}
	return &Engine{
		config:    config,
		policies:  policies,
		budget:    budget,
		overrides: opts.Overrides,
		registry:  opts.Registry,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
	}
}

// Registry returns the feature and action registry requests are checked
// against.
func (e *Engine) Registry() *policy.Registry {
	return e.registry
}

// Validate rejects requests naming unregistered features or actions.
func (e *Engine) Validate(req *Request) error {
	if !e.registry.HasFeature(req.Feature) {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, req.Feature)
	}
	if !e.registry.HasAction(req.Action) || req.Action == policy.AnyAction {
		return fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	for _, v := range req.Estimate.Values() {
		if v < 0 {
			return ledger.ErrInvalidDelta
		}
	}
	return nil
}

// Evaluate decides whether req may proceed. Invalid requests return an
// error; infrastructure failures return a BLOCK decision with Cause set.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "decision.Evaluate", trace.WithAttributes(
		attribute.String("governor.feature", string(req.Feature)),
		attribute.String("governor.action", string(req.Action)),
	))
	defer span.End()

	start := time.Now()
	d := &Decision{
		Feature:     req.Feature,
		Action:      req.Action,
		EvaluatedAt: e.clock.Now(),
	}

	if !e.config.Enabled {
		d.Outcome = OutcomeAllow
		d.Reasons = []Reason{{
			Code:     ReasonGovernanceDisabled,
			Message:  "Governance is disabled; the action is allowed without checks.",
			Severity: SeverityInfo,
		}}
	} else {
		ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		err := e.evaluate(ctx, req, d)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		cancel()
		if err != nil {
			e.failClosed(d, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	d.Duration = time.Since(start)
	e.metrics.record(d)

	span.SetAttributes(
		attribute.String("governor.outcome", string(d.Outcome)),
		attribute.String("governor.policy_id", d.MatchedPolicyID),
		attribute.StringSlice("governor.reasons", d.ReasonCodes()),
	)

	if d.Outcome != OutcomeAllow {
		e.logger.Info("action not allowed outright",
			"feature", d.Feature,
			"action", d.Action,
			"outcome", d.Outcome,
			"reasons", d.ReasonCodes(),
			"policy_id", d.MatchedPolicyID,
			"retry_after_seconds", d.RetryAfterSeconds,
		)
	}
	return d, nil
}

func (e *Engine) evaluate(ctx context.Context, req *Request, d *Decision) error {
	if e.policies == nil {
		return ErrNoSnapshot
	}
	snap := e.policies.Snapshot()
	if snap == nil {
		return ErrNoSnapshot
	}

	// 1. resolve
	p := snap.Resolve(req.ResolveContext())
	d.MatchedPolicyID = p.ID
	d.MatchedTarget = p.Target
	d.PolicyVersion = snap.Version
	d.Approval = p.Approval

	// 2. blocked actions are never overridable
	if p.IsBlocked(req.Action) {
		e.block(d, Reason{
			Code:     ReasonActionBlocked,
			Message:  fmt.Sprintf("Action %q is blocked by policy %q.", req.Action, p.Name),
			Severity: SeverityHigh,
		}, 0)
		return nil
	}

	override := e.overrideActive(p.Target, req.Feature)

	// 3. time window
	if p.TimeWindow != nil && !p.TimeWindow.Contains(d.EvaluatedAt) {
		retry := p.TimeWindow.RetryAfter(d.EvaluatedAt)
		r := Reason{
			Code:     ReasonOutsideTimeWindow,
			Message:  windowMessage(p.TimeWindow, retry),
			Severity: SeverityMedium,
		}
		if !override {
			e.block(d, r, retry)
			return nil
		}
		e.bypass(d, r)
	}

	// 4. allowed actions
	if !p.IsAllowed(req.Action) {
		r := Reason{
			Code:     ReasonActionNotAllowed,
			Message:  fmt.Sprintf("Action %q is not in the allowed actions of policy %q.", req.Action, p.Name),
			Severity: SeverityMedium,
		}
		if !override {
			e.block(d, r, 0)
			return nil
		}
		e.bypass(d, r)
	}

	// 5. budgets
	if len(p.Budgets) > 0 && e.budget != nil {
		headroom, err := e.budget.CheckHeadroom(ctx, p.Target, p.Budgets, req.Deltas())
		if err != nil {
			return err
		}
		d.Headroom = headroom
		if !headroom.HasRoom {
			r := Reason{
				Code:     ReasonBudgetExhausted,
				Message:  budgetMessage(headroom),
				Severity: SeverityHigh,
			}
			if !override {
				e.block(d, r, headroom.RetryAfter)
				return nil
			}
			e.bypass(d, r)
		}
	}

	// 6. approval
	if p.Approval.RequiresHuman() {
		if override {
			e.bypass(d, Reason{
				Code:    ReasonApprovalRequired,
				Message: fmt.Sprintf("Policy %q requires %s approval.", p.Name, p.Approval),
			})
		} else {
			sev := SeverityLow
			msg := fmt.Sprintf("Policy %q requires review; the action is logged for approval.", p.Name)
			if p.Approval == policy.ApprovalManual {
				sev = SeverityMedium
				msg = fmt.Sprintf("Policy %q requires manual approval; the action has been escalated.", p.Name)
			}
			d.Outcome = OutcomeWarn
			d.Reasons = append(d.Reasons, Reason{Code: ReasonApprovalRequired, Message: msg, Severity: sev})
			return nil
		}
	}

	// 7. allow
	d.Outcome = OutcomeAllow
	return nil
}

func (e *Engine) overrideActive(target policy.Target, feature policy.Feature) bool {
	if e.overrides == nil {
		return false
	}
	if e.overrides.IsActive(target, feature) {
		return true
	}
	ft := policy.FeatureTarget(feature)
	return !ft.Equal(target) && e.overrides.IsActive(ft, feature)
}

func (e *Engine) block(d *Decision, r Reason, retry time.Duration) {
	d.Outcome = OutcomeBlock
	d.Reasons = append(d.Reasons, r)
	d.RetryAfterSeconds = int64((retry + time.Second - 1) / time.Second)
}

// bypass records a block lifted by an override.
func (e *Engine) bypass(d *Decision, r Reason) {
	if !d.OverrideActive {
		d.OverrideActive = true
		d.Reasons = append(d.Reasons, Reason{
			Code:     ReasonOverrideActive,
			Message:  "A human override is active for this target.",
			Severity: SeverityInfo,
		})
	}
	r.Severity = SeverityInfo
	r.Message += " Bypassed by override."
	d.Reasons = append(d.Reasons, r)
}

func (e *Engine) failClosed(d *Decision, err error) {
	d.Outcome = OutcomeBlock
	d.RetryAfterSeconds = 0
	d.Cause = err

	if errors.Is(err, context.DeadlineExceeded) {
		d.Cause = &TimeoutError{Stage: "evaluate", Timeout: e.config.Timeout}
		d.Reasons = []Reason{{
			Code:     ReasonEvaluationTimeout,
			Message:  fmt.Sprintf("Governance evaluation did not finish within %v; the action is blocked.", e.config.Timeout),
			Severity: SeverityCritical,
		}}
	} else {
		d.Reasons = []Reason{{
			Code:     ReasonGovernanceUnavailable,
			Message:  "Governance is unavailable; the action is blocked until it recovers.",
			Severity: SeverityCritical,
		}}
	}

	e.logger.Error("evaluation failed closed",
		"feature", d.Feature,
		"action", d.Action,
		"reason", d.Reasons[0].Code,
		"error", err,
	)
}

func windowMessage(w *policy.TimeWindow, retry time.Duration) string {
	tz := w.Timezone
	if tz == "" {
		tz = "UTC"
	}
	msg := fmt.Sprintf("Actions are only allowed between %02d:00 and %02d:00 %s", w.StartHour, w.EndHour, tz)
	if len(w.Weekdays) > 0 {
		days := make([]string, len(w.Weekdays))
		for i, d := range w.Weekdays {
			days[i] = d.String()[:3]
		}
		msg += " on " + strings.Join(days, ", ")
	}
	if retry > 0 {
		msg += fmt.Sprintf("; the window reopens in %s", retry)
	}
	return msg + "."
}

func budgetMessage(h *ledger.HeadroomResult) string {
	parts := make([]string, 0, len(h.Exhausted))
	for _, ps := range h.Exhausted {
		parts = append(parts, fmt.Sprintf("%s (%s)", ps.Period, strings.Join(ps.Exceeded, ", ")))
	}
	return fmt.Sprintf("Budget exhausted for %s.", strings.Join(parts, "; "))
}
