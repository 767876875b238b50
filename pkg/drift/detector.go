package drift

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Thresholds are the deviations above which each drift type is signalled.
type Thresholds struct {
	BudgetExhaustion       float64 `yaml:"budget_exhaustion"`
	BudgetUnderutilization float64 `yaml:"budget_underutilization"`
	OverrideSpike          float64 `yaml:"override_spike"`
	IncidentSpike          float64 `yaml:"incident_spike"`
	CostDrift              float64 `yaml:"cost_drift"`
	LatencyDegradation     float64 `yaml:"latency_degradation"`
	TrafficShift           float64 `yaml:"traffic_shift"`
	AccuracyDecline        float64 `yaml:"accuracy_decline"`
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BudgetExhaustion:       0.5,
		BudgetUnderutilization: 0.8,
		OverrideSpike:          0.5,
		IncidentSpike:          0.25,
		CostDrift:              0.3,
		LatencyDegradation:     0.5,
		TrafficShift:           0.5,
		AccuracyDecline:        0.2,
	}
}

func (t *Thresholds) applyDefaults() {
	d := DefaultThresholds()
	set := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	set(&t.BudgetExhaustion, d.BudgetExhaustion)
	set(&t.BudgetUnderutilization, d.BudgetUnderutilization)
	set(&t.OverrideSpike, d.OverrideSpike)
	set(&t.IncidentSpike, d.IncidentSpike)
	set(&t.CostDrift, d.CostDrift)
	set(&t.LatencyDegradation, d.LatencyDegradation)
	set(&t.TrafficShift, d.TrafficShift)
	set(&t.AccuracyDecline, d.AccuracyDecline)
}

// Config configures the detector.
type Config struct {
	// BaselineWindow is the full history compared against (default: 168h).
	// The current window is excluded from the baseline.
	BaselineWindow time.Duration

	// CurrentWindow is the recent period under test (default: 24h).
	CurrentWindow time.Duration

	// MinSamples is the sample size below which nothing is signalled
	// (default: 50).
	MinSamples int

	Thresholds Thresholds

	// SignalsPerFeature bounds retained signals (default: 100).
	SignalsPerFeature int

	// PageSize is the event query page size (default: 1000).
	PageSize int

	// Timeout bounds a run (default: 2m).
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaselineWindow:    168 * time.Hour,
		CurrentWindow:     24 * time.Hour,
		MinSamples:        50,
		Thresholds:        DefaultThresholds(),
		SignalsPerFeature: DefaultSignalsPerFeature,
		PageSize:          1000,
		Timeout:           2 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaselineWindow <= 0 {
		c.BaselineWindow = d.BaselineWindow
	}
	if c.CurrentWindow <= 0 || c.CurrentWindow >= c.BaselineWindow {
		c.CurrentWindow = d.CurrentWindow
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.SignalsPerFeature <= 0 {
		c.SignalsPerFeature = d.SignalsPerFeature
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	c.Thresholds.applyDefaults()
}

// Detector compares recent governance behaviour per feature against its
// baseline and records drift signals.
type Detector struct {
	store    events.Store
	policies policy.SnapshotSource
	signals  *Store
	config   *Config
	clock    clockwork.Clock
	metrics  *Metrics
	logger   *slog.Logger
}

// NewDetector creates a detector. policies may be nil, which disables
// underutilization checks.
func NewDetector(store events.Store, policies policy.SnapshotSource, config *Config, clock clockwork.Clock, metrics *Metrics) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Detector{
		store:    store,
		policies: policies,
		signals:  NewStore(config.SignalsPerFeature),
		config:   config,
		clock:    clock,
		metrics:  metrics,
		logger:   slog.Default().With("component", "drift.detector"),
	}
}

// Name identifies the detector as a scheduled job.
func (d *Detector) Name() string {
	return "drift"
}

// Run detects drift and discards the result.
func (d *Detector) Run(ctx context.Context) error {
	_, err := d.Detect(ctx)
	return err
}

// Signals returns the signal store.
func (d *Detector) Signals() *Store {
	return d.signals
}

// window accumulates one feature's decisions in one window.
type window struct {
	decisions   int
	exhausted   int
	overrides   int
	spend       int64
	actions     int64
	withOutcome int
	incidents   int
	classified  int
	correct     int
	latencySum  time.Duration
	latencyN    int
}

func (w *window) add(e *events.Event) {
	w.decisions++
	decision := e.DataString(events.DataDecision)
	if decision == "BLOCK" && e.HasString(events.DataReasons, "BUDGET_EXHAUSTED") {
		w.exhausted++
	}
	if e.Bool(events.DataOverride) {
		w.overrides++
	}
	if decision != "BLOCK" {
		w.spend += e.Int(events.DataSpend)
		w.actions += e.Int(events.DataActions)
	}

	o := e.Outcome
	if o == nil {
		return
	}
	w.withOutcome++
	if o.HadIncident {
		w.incidents++
	}
	if o.Latency > 0 {
		w.latencySum += o.Latency
		w.latencyN++
	}
	switch {
	case o.HadIncident || o.WasReverted || o.DegradedSystem:
		w.classified++
	case o.Resolved:
		w.classified++
		w.correct++
	}
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func (w *window) avgSpend() float64 {
	if w.decisions == 0 {
		return 0
	}
	return float64(w.spend) / float64(w.decisions)
}

func (w *window) avgLatencyMs() float64 {
	if w.latencyN == 0 {
		return 0
	}
	return float64(w.latencySum.Milliseconds()) / float64(w.latencyN)
}

// direction is the way a metric has to move to be adverse.
type direction int

const (
	up direction = iota
	down
	either
)

type check struct {
	typ       Type
	metric    string
	current   float64
	baseline  float64
	samples   int
	threshold float64
	dir       direction

	// rate metrics are fractions; an empty baseline compares absolutely.
	rate bool
}

// deviation returns the adverse relative change, or false when no baseline
// exists to compare a non-rate metric against.
func (c check) deviation() (float64, bool) {
	if c.baseline == 0 {
		if !c.rate {
			return 0, false
		}
		if c.dir == down {
			return 0, true
		}
		return c.current, true
	}
	rel := (c.current - c.baseline) / c.baseline
	switch c.dir {
	case up:
		return rel, true
	case down:
		return -rel, true
	default:
		return math.Abs(rel), true
	}
}

// Detect runs one detection pass and returns the signals raised or
// refreshed by it.
func (d *Detector) Detect(ctx context.Context) ([]*Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	now := d.clock.Now()
	cutoff := now.Add(-d.config.CurrentWindow)
	current := make(map[string]*window)
	baseline := make(map[string]*window)

	q := &events.Query{
		Types: []events.EventType{events.TypeDecisionMade},
		Since: now.Add(-d.config.BaselineWindow),
		Until: now,
		Limit: d.config.PageSize,
	}
	for {
		page, err := d.store.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("drift detection: %w", err)
		}
		for _, e := range page {
			target := baseline
			if !e.Timestamp.Before(cutoff) {
				target = current
			}
			w, ok := target[e.Feature]
			if !ok {
				w = &window{}
				target[e.Feature] = w
			}
			w.add(e)
		}
		if len(page) < q.Limit {
			break
		}
		q.Offset += q.Limit
	}

	features := make(map[string]struct{})
	for f := range current {
		features[f] = struct{}{}
	}
	for f := range baseline {
		features[f] = struct{}{}
	}
	names := make([]string, 0, len(features))
	for f := range features {
		names = append(names, f)
	}
	sort.Strings(names)

	var raised []*Signal
	for _, f := range names {
		cur, base := current[f], baseline[f]
		if cur == nil {
			cur = &window{}
		}
		if base == nil {
			base = &window{}
		}
		for _, c := range d.checks(f, cur, base) {
			if s := d.evaluate(f, c, now); s != nil {
				stored, added := d.signals.Upsert(s)
				if added {
					d.metrics.recordSignal(stored)
					d.logger.Warn("drift detected",
						"feature", f,
						"type", stored.Type,
						"severity", stored.Severity,
						"current", stored.Observation.Current,
						"baseline", stored.Observation.Baseline,
					)
				}
				raised = append(raised, stored)
			}
		}
	}

	d.metrics.setOpen(d.signals.List(Filter{OpenOnly: true}))
	d.logger.Debug("drift detection completed", "features", len(names), "signals", len(raised))
	return raised, nil
}

func (d *Detector) checks(feature string, cur, base *window) []check {
	t := d.config.Thresholds
	curHours := d.config.CurrentWindow.Hours()
	baseHours := (d.config.BaselineWindow - d.config.CurrentWindow).Hours()
	decisions := min(cur.decisions, base.decisions)
	outcomes := min(cur.withOutcome, base.withOutcome)

	checks := []check{
		{
			typ: TypeBudgetExhaustion, metric: "budget_exhaustion_rate",
			current: ratio(cur.exhausted, cur.decisions), baseline: ratio(base.exhausted, base.decisions),
			samples: decisions, threshold: t.BudgetExhaustion, dir: up, rate: true,
		},
		{
			typ: TypeOverrideSpike, metric: "override_rate",
			current: ratio(cur.overrides, cur.decisions), baseline: ratio(base.overrides, base.decisions),
			samples: decisions, threshold: t.OverrideSpike, dir: up, rate: true,
		},
		{
			typ: TypeIncidentSpike, metric: "incident_rate",
			current: ratio(cur.incidents, cur.withOutcome), baseline: ratio(base.incidents, base.withOutcome),
			samples: outcomes, threshold: t.IncidentSpike, dir: up, rate: true,
		},
		{
			typ: TypeCostDrift, metric: "spend_per_decision",
			current: cur.avgSpend(), baseline: base.avgSpend(),
			samples: decisions, threshold: t.CostDrift, dir: up,
		},
		{
			typ: TypeLatencyDegradation, metric: "latency_ms",
			current: cur.avgLatencyMs(), baseline: base.avgLatencyMs(),
			samples: min(cur.latencyN, base.latencyN), threshold: t.LatencyDegradation, dir: up,
		},
		{
			typ: TypeTrafficShift, metric: "decisions_per_hour",
			current: float64(cur.decisions) / curHours, baseline: float64(base.decisions) / baseHours,
			samples: decisions, threshold: t.TrafficShift, dir: either,
		},
		{
			typ: TypeAccuracyDecline, metric: "confirmed_correct_rate",
			current: ratio(cur.correct, cur.classified), baseline: ratio(base.correct, base.classified),
			samples: min(cur.classified, base.classified), threshold: t.AccuracyDecline, dir: down, rate: true,
		},
	}

	if limit := d.dailyActionCap(feature); limit > 0 {
		days := baseHours / 24
		baseDaily := 0.0
		if days > 0 {
			baseDaily = float64(base.actions) / days
		}
		checks = append(checks, check{
			typ:       TypeBudgetUnderutilization,
			metric:    "daily_budget_utilization",
			current:   float64(cur.actions) / float64(limit) * (24 / curHours),
			baseline:  baseDaily / float64(limit),
			samples:   cur.decisions + base.decisions,
			threshold: t.BudgetUnderutilization,
		})
	}
	return checks
}

// dailyActionCap returns the daily action cap governing a feature, or 0.
func (d *Detector) dailyActionCap(feature string) int64 {
	if d.policies == nil {
		return 0
	}
	snap := d.policies.Snapshot()
	if snap == nil {
		return 0
	}
	def := snap.Resolve(policy.ResolveContext{Feature: policy.Feature(feature)})
	if def == nil {
		return 0
	}
	b, ok := def.Budget(policy.PeriodDaily)
	if !ok {
		return 0
	}
	return b.MaxActions
}

func (d *Detector) evaluate(feature string, c check, now time.Time) *Signal {
	if c.samples < d.config.MinSamples {
		return nil
	}

	var dev float64
	if c.typ == TypeBudgetUnderutilization {
		dev = 1 - c.current
	} else {
		var ok bool
		if dev, ok = c.deviation(); !ok {
			return nil
		}
	}
	if dev <= c.threshold {
		return nil
	}

	severity := SeverityFor(dev, c.threshold)
	s := &Signal{
		ID:         uuid.New().String(),
		Type:       c.typ,
		Severity:   severity,
		Feature:    feature,
		DetectedAt: now,
		Observation: Observation{
			Metric:       c.metric,
			Current:      round(c.current),
			Baseline:     round(c.baseline),
			DeviationPct: round(deviationPct(c.current, c.baseline)),
			Trend:        trend(c.current, c.baseline),
			WindowHours:  int(d.config.CurrentWindow.Hours()),
		},
		Context: SignalContext{
			SampleSize: c.samples,
			Confidence: round(1 - math.Exp(-float64(c.samples)/float64(d.config.MinSamples))),
		},
		Status:    StatusNew,
		UpdatedAt: now,
	}
	s.Recommendation = d.recommend(feature, c, severity)
	return s
}

func (d *Detector) recommend(feature string, c check, severity Severity) *Recommendation {
	r := &Recommendation{Urgency: urgency(severity)}
	switch c.typ {
	case TypeBudgetExhaustion:
		r.Action = "increase_budget"
		r.Rationale = "budgets are exhausted far more often than usual"
		if limit := d.dailyActionCap(feature); limit > 0 {
			v := math.Ceil(float64(limit) * 1.25)
			r.SuggestedValue = &v
		}
	case TypeBudgetUnderutilization:
		r.Action = "decrease_budget"
		r.Rationale = "the daily budget is mostly unused"
		if limit := d.dailyActionCap(feature); limit > 0 {
			peak := math.Max(c.current, c.baseline) * float64(limit)
			v := math.Max(1, math.Ceil(peak*1.2))
			r.SuggestedValue = &v
		}
	case TypeOverrideSpike:
		r.Action = "review_policy"
		r.Rationale = "overrides are bypassing this policy more often than usual"
	case TypeIncidentSpike:
		r.Action = "tighten_approval"
		r.Rationale = "incidents after allowed actions are rising"
	case TypeCostDrift:
		r.Action = "review_spend_limits"
		r.Rationale = "spend per action is rising"
		v := round(c.baseline)
		r.SuggestedValue = &v
	case TypeLatencyDegradation:
		r.Action = "investigate_latency"
		r.Rationale = "guarded actions are taking longer to complete"
	case TypeTrafficShift:
		r.Action = "review_budget"
		r.Rationale = "request volume has shifted away from its baseline"
	case TypeAccuracyDecline:
		r.Action = "review_policy"
		r.Rationale = "fewer allowed actions are confirmed correct"
	}
	return r
}

func urgency(s Severity) string {
	switch s {
	case SeverityCritical:
		return "immediate"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "normal"
	default:
		return "low"
	}
}

func trend(current, baseline float64) Trend {
	switch {
	case current > baseline*1.05:
		return TrendIncreasing
	case current < baseline*0.95:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func deviationPct(current, baseline float64) float64 {
	if baseline == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - baseline) / baseline * 100
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
