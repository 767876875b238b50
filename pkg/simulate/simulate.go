package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/learning"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

var (
	// ErrTooManySimulations is returned when the concurrency cap is reached.
	ErrTooManySimulations = errors.New("too many concurrent simulations")

	// ErrInvalidWindow is returned for an empty or inverted window.
	ErrInvalidWindow = errors.New("invalid simulation window")
)

// MaxChanges bounds the changed decisions listed in a result.
const MaxChanges = 100

// Config bounds simulation cost.
type Config struct {
	// Timeout bounds one run (default: 60s).
	Timeout time.Duration

	// MaxRecords caps the decisions replayed per run (default: 10,000).
	MaxRecords int

	// MaxConcurrent caps simultaneous runs (default: 3).
	MaxConcurrent int

	// Location anchors replayed budget periods (default: UTC).
	Location *time.Location
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:       60 * time.Second,
		MaxRecords:    10_000,
		MaxConcurrent: 3,
		Location:      time.UTC,
	}
}

// Correlator supplies incident rates learned from outcomes.
type Correlator interface {
	IncidentCorrelation(feature, action string) learning.Correlation
}

// Window is the half-open range of history replayed.
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Counts tallies decisions by outcome.
type Counts struct {
	Allow int `json:"allow"`
	Warn  int `json:"warn"`
	Block int `json:"block"`
}

func (c *Counts) add(o decision.Outcome) {
	switch o {
	case decision.OutcomeAllow:
		c.Allow++
	case decision.OutcomeWarn:
		c.Warn++
	case decision.OutcomeBlock:
		c.Block++
	}
}

// Change is one decision that would have gone differently.
type Change struct {
	EventID  string           `json:"event_id"`
	Feature  string           `json:"feature"`
	Action   string           `json:"action"`
	At       time.Time        `json:"at"`
	Recorded decision.Outcome `json:"recorded"`
	Replayed decision.Outcome `json:"replayed"`
	Reasons  []string         `json:"reasons,omitempty"`
}

// Result is the predicted impact of a hypothetical policy.
type Result struct {
	PolicyID string `json:"policy_id"`
	Window   Window `json:"window"`

	RecordsProcessed int `json:"records_processed"`
	Skipped          int `json:"skipped"`

	// Truncated is set when the window held more than MaxRecords decisions.
	Truncated bool `json:"truncated"`

	Recorded Counts `json:"recorded"`
	Replayed Counts `json:"replayed"`

	DecisionsChanged int `json:"decisions_changed"`
	AllowsDelta      int `json:"allows_delta"`
	WarnsDelta       int `json:"warns_delta"`
	BlocksDelta      int `json:"blocks_delta"`

	// PredictedIncidentDelta is the expected change in incidents, from the
	// learned incident rate of each decision that changes between
	// proceeding and being blocked.
	PredictedIncidentDelta float64 `json:"predicted_incident_delta"`

	// PredictedCostDelta is the change in spend, in minor units.
	PredictedCostDelta int64 `json:"predicted_cost_delta"`

	Changes  []Change      `json:"changes,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Simulator replays recorded decisions against a hypothetical policy.
type Simulator struct {
	store      events.Store
	policies   policy.SnapshotSource
	registry   *policy.Registry
	validator  *policy.Validator
	correlator Correlator
	config     *Config
	slots      chan struct{}
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewSimulator creates a simulator. correlator may be nil, in which case
// incident deltas are zero.
func NewSimulator(store events.Store, policies policy.SnapshotSource, registry *policy.Registry, correlator Correlator, config *Config) *Simulator {
	if config == nil {
		config = DefaultConfig()
	}
	d := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.MaxRecords <= 0 {
		config.MaxRecords = d.MaxRecords
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = d.MaxConcurrent
	}
	if config.Location == nil {
		config.Location = d.Location
	}
	if registry == nil {
		registry = policy.DefaultRegistry()
	}
	return &Simulator{
		store:      store,
		policies:   policies,
		registry:   registry,
		validator:  policy.NewValidator(registry, false),
		correlator: correlator,
		config:     config,
		slots:      make(chan struct{}, config.MaxConcurrent),
		tracer:     otel.Tracer("governor/simulate"),
		logger:     slog.Default().With("component", "simulate.simulator"),
	}
}

// replayOverrides reports the override state recorded with the decision
// being replayed.
type replayOverrides struct {
	active bool
}

func (r *replayOverrides) IsActive(policy.Target, policy.Feature) bool {
	return r.active
}

// Simulate replays every decision_made event in window with hypothetical
// added to, or replacing its namesake in, the live policy set.
func (s *Simulator) Simulate(ctx context.Context, hypothetical *policy.Definition, window Window) (*Result, error) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		return nil, ErrTooManySimulations
	}

	if window.Since.IsZero() || !window.Until.After(window.Since) {
		return nil, ErrInvalidWindow
	}
	if err := s.validator.Validate(hypothetical); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "simulate.Simulate", trace.WithAttributes(
		attribute.String("governor.policy_id", hypothetical.ID),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	live := s.policies.Snapshot()
	if live == nil {
		return nil, decision.ErrNoSnapshot
	}
	snap, err := live.WithPolicy(hypothetical)
	if err != nil {
		return nil, fmt.Errorf("apply hypothetical policy: %w", err)
	}

	recorded, err := s.store.Query(ctx, &events.Query{
		Types: []events.EventType{events.TypeDecisionMade},
		Since: window.Since,
		Until: window.Until,
		Limit: s.config.MaxRecords + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("load decision history: %w", err)
	}

	start := time.Now()
	result := &Result{PolicyID: hypothetical.ID, Window: window}
	if len(recorded) > s.config.MaxRecords {
		recorded = recorded[:s.config.MaxRecords]
		result.Truncated = true
	}

	clock := clockwork.NewFakeClockAt(window.Since)
	shadow := ledger.New(storage.NewMemoryBackend(0), clock, ledger.Config{Location: s.config.Location}, nil)
	defer shadow.Close()
	overrides := &replayOverrides{}
	engine := decision.NewEngine(decision.DefaultConfig(), policy.NewStaticSource(snap), shadow, decision.Options{
		Registry:  s.registry,
		Overrides: overrides,
		Clock:     clock,
		Tracer:    s.tracer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	for _, e := range recorded {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation aborted after %d records: %w", result.RecordsProcessed, err)
		}

		was := decision.Outcome(e.DataString(events.DataDecision))
		if was == "" || infrastructureBlock(e) {
			result.Skipped++
			continue
		}
		if gap := e.Timestamp.Sub(clock.Now()); gap > 0 {
			clock.Advance(gap)
		}

		req := requestFrom(e)
		overrides.active = e.Bool(events.DataOverride)
		d, err := engine.Evaluate(ctx, req)
		if err != nil {
			// Recorded against a registry that has since changed.
			result.Skipped++
			continue
		}
		if d.Cause != nil {
			return nil, fmt.Errorf("replay of event %s: %w", e.ID, d.Cause)
		}
		if d.Allowed() {
			if err := shadow.ConsumeAll(ctx, d.MatchedTarget, req.Deltas(), req.Feature, req.Action); err != nil {
				return nil, fmt.Errorf("replay consumption: %w", err)
			}
		}

		result.RecordsProcessed++
		result.Recorded.add(was)
		result.Replayed.add(d.Outcome)
		if was == d.Outcome {
			continue
		}

		result.DecisionsChanged++
		if len(result.Changes) < MaxChanges {
			result.Changes = append(result.Changes, Change{
				EventID:  e.ID,
				Feature:  e.Feature,
				Action:   e.Action,
				At:       e.Timestamp,
				Recorded: was,
				Replayed: d.Outcome,
				Reasons:  d.ReasonCodes(),
			})
		}

		proceededBefore := was != decision.OutcomeBlock
		proceedsNow := d.Outcome != decision.OutcomeBlock
		if proceededBefore == proceedsNow {
			continue
		}
		sign := 1.0
		if proceededBefore {
			sign = -1
		}
		result.PredictedCostDelta += int64(sign) * e.Int(events.DataSpend)
		if s.correlator != nil {
			result.PredictedIncidentDelta += sign * s.correlator.IncidentCorrelation(e.Feature, e.Action).Rate()
		}
	}

	result.AllowsDelta = result.Replayed.Allow - result.Recorded.Allow
	result.WarnsDelta = result.Replayed.Warn - result.Recorded.Warn
	result.BlocksDelta = result.Replayed.Block - result.Recorded.Block
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("governor.records", result.RecordsProcessed),
		attribute.Int("governor.decisions_changed", result.DecisionsChanged),
	)
	s.logger.Info("simulation completed",
		"policy_id", hypothetical.ID,
		"records", result.RecordsProcessed,
		"changed", result.DecisionsChanged,
		"blocks_delta", result.BlocksDelta,
		"truncated", result.Truncated,
		"duration", result.Duration,
	)
	return result, nil
}

func requestFrom(e *events.Event) *decision.Request {
	return &decision.Request{
		Feature:  policy.Feature(e.Feature),
		Action:   policy.Action(e.Action),
		EntityID: e.DataString(events.DataEntityID),
		Locale:   e.DataString(events.DataLocale),
		Team:     e.Team,
		Estimate: ledger.Deltas{
			Actions:          e.Int(events.DataActions),
			Spend:            e.Int(events.DataSpend),
			DBWrites:         e.Int(events.DataDBWrites),
			ContentMutations: e.Int(events.DataContentMutations),
		},
	}
}

// infrastructureBlock reports decisions that failed closed; they say
// nothing about policy and are not replayed.
func infrastructureBlock(e *events.Event) bool {
	for _, code := range e.Strings(events.DataReasons) {
		if decision.ReasonCode(code).Infrastructure() {
			return true
		}
	}
	return false
}
