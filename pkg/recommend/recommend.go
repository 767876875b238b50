package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// ErrNoPolicies is returned when no policy snapshot is available.
var ErrNoPolicies = errors.New("no policy snapshot available")

// History provides retained budget buckets.
type History interface {
	History(ctx context.Context, target *policy.Target) ([]*storage.Bucket, error)
}

// Config tunes recommendations.
type Config struct {
	// Period is the budget period recommended for (default: daily).
	Period policy.Period

	// Lookback bounds the history considered (default: 14 days).
	Lookback time.Duration

	// HeadroomTarget is the margin added over peak consumption (default: 0.2).
	HeadroomTarget float64

	// SafetyMargin inflates the cap further when override or incident rates
	// are elevated (default: 0.1).
	SafetyMargin float64

	// ElevatedOverrideRate and ElevatedIncidentRate mark rates as elevated
	// (defaults: 0.1 and 0.05).
	ElevatedOverrideRate float64
	ElevatedIncidentRate float64

	// ConfidenceThreshold and MinDataPoints withhold weak recommendations
	// (defaults: 0.7 and 100).
	ConfidenceThreshold float64
	MinDataPoints       int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Period:               policy.PeriodDaily,
		Lookback:             14 * 24 * time.Hour,
		HeadroomTarget:       0.2,
		SafetyMargin:         0.1,
		ElevatedOverrideRate: 0.1,
		ElevatedIncidentRate: 0.05,
		ConfidenceThreshold:  0.7,
		MinDataPoints:        100,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Period == "" {
		c.Period = d.Period
	}
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.HeadroomTarget <= 0 {
		c.HeadroomTarget = d.HeadroomTarget
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = d.SafetyMargin
	}
	if c.ElevatedOverrideRate <= 0 {
		c.ElevatedOverrideRate = d.ElevatedOverrideRate
	}
	if c.ElevatedIncidentRate <= 0 {
		c.ElevatedIncidentRate = d.ElevatedIncidentRate
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = d.MinDataPoints
	}
}

// Stat summarises one consumption dimension across period buckets.
type Stat struct {
	Peak     float64 `json:"peak"`
	Avg      float64 `json:"avg"`
	Variance float64 `json:"variance"`
}

func statOf(values []float64) Stat {
	if len(values) == 0 {
		return Stat{}
	}
	var s Stat
	for _, v := range values {
		s.Avg += v
		s.Peak = math.Max(s.Peak, v)
	}
	s.Avg /= float64(len(values))
	for _, v := range values {
		s.Variance += (v - s.Avg) * (v - s.Avg)
	}
	s.Variance /= float64(len(values))
	return s
}

// cv is the coefficient of variation.
func (s Stat) cv() float64 {
	if s.Avg == 0 {
		return 0
	}
	return math.Sqrt(s.Variance) / s.Avg
}

// TrafficMetrics describes a feature's traffic over the lookback.
type TrafficMetrics struct {
	Feature string        `json:"feature"`
	Target  policy.Target `json:"target"`
	Period  policy.Period `json:"period"`

	// Buckets is the number of period buckets observed.
	Buckets int `json:"buckets"`

	// DataPoints is the number of decisions observed.
	DataPoints int `json:"data_points"`

	Actions          Stat `json:"actions"`
	Spend            Stat `json:"spend"`
	DBWrites         Stat `json:"db_writes"`
	ContentMutations Stat `json:"content_mutations"`

	// AvgLatencyMs is the mean latency of guarded actions with an outcome.
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	OverrideRate float64 `json:"override_rate"`
	IncidentRate float64 `json:"incident_rate"`
}

// Recommendation is a proposed budget limit.
type Recommendation struct {
	Feature string        `json:"feature"`
	Target  policy.Target `json:"target"`
	Period  policy.Period `json:"period"`

	Current *policy.BudgetLimit `json:"current,omitempty"`

	// Recommended is nil when the recommendation is withheld.
	Recommended *policy.BudgetLimit `json:"recommended,omitempty"`

	Confidence          float64 `json:"confidence"`
	DataPoints          int     `json:"data_points"`
	SafetyMarginApplied bool    `json:"safety_margin_applied"`
	Rationale           string  `json:"rationale"`

	// Withheld recommendations carry no proposed limit and are left out of
	// Latest.
	Withheld       bool   `json:"withheld"`
	WithheldReason string `json:"withheld_reason,omitempty"`

	Metrics     TrafficMetrics `json:"metrics"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Recommender proposes budget limits from ledger history and decision
// events.
type Recommender struct {
	history  History
	store    events.Store
	policies policy.SnapshotSource
	registry *policy.Registry
	config   *Config
	clock    clockwork.Clock
	logger   *slog.Logger

	mu     sync.RWMutex
	latest map[string]*Recommendation
}

// NewRecommender creates a recommender.
func NewRecommender(history History, store events.Store, policies policy.SnapshotSource, registry *policy.Registry, config *Config, clock clockwork.Clock) *Recommender {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()
	if registry == nil {
		registry = policy.DefaultRegistry()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recommender{
		history:  history,
		store:    store,
		policies: policies,
		registry: registry,
		config:   config,
		clock:    clock,
		logger:   slog.Default().With("component", "recommend.recommender"),
		latest:   make(map[string]*Recommendation),
	}
}

// Name identifies the recommender as a scheduled job.
func (r *Recommender) Name() string {
	return "recommender"
}

// Run refreshes recommendations for every registered feature. A failure
// for one feature is logged and does not stop the others.
func (r *Recommender) Run(ctx context.Context) error {
	var failed int
	for _, f := range r.registry.Features() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Recommend(ctx, string(f))
		if err != nil {
			failed++
			r.logger.Warn("recommendation failed", "feature", f, "error", err)
			continue
		}
		r.mu.Lock()
		r.latest[rec.Feature] = rec
		r.mu.Unlock()
	}
	if failed > 0 {
		return fmt.Errorf("recommendations failed for %d features", failed)
	}
	return nil
}

// Latest returns the recommendations from the last run that cleared the
// confidence bar, by feature name.
func (r *Recommender) Latest() []*Recommendation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Recommendation, 0, len(r.latest))
	for _, rec := range r.latest {
		if !rec.Withheld {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// WithheldCount returns how many features the last run withheld a
// recommendation for.
func (r *Recommender) WithheldCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, rec := range r.latest {
		if rec.Withheld {
			n++
		}
	}
	return n
}

// Metrics collects traffic metrics for a feature.
func (r *Recommender) Metrics(ctx context.Context, feature string) (*TrafficMetrics, *policy.Definition, error) {
	snap := r.policies.Snapshot()
	if snap == nil {
		return nil, nil, ErrNoPolicies
	}
	def := snap.Resolve(policy.ResolveContext{Feature: policy.Feature(feature)})

	now := r.clock.Now()
	since := now.Add(-r.config.Lookback)
	m := &TrafficMetrics{Feature: feature, Target: def.Target, Period: r.config.Period}

	target := def.Target
	buckets, err := r.history.History(ctx, &target)
	if err != nil {
		return nil, nil, fmt.Errorf("budget history: %w", err)
	}
	var actions, spend, writes, mutations []float64
	for _, b := range buckets {
		if b.Period != string(r.config.Period) || b.PeriodEnd.Before(since) {
			continue
		}
		actions = append(actions, float64(b.Actions))
		spend = append(spend, float64(b.Spend))
		writes = append(writes, float64(b.DBWrites))
		mutations = append(mutations, float64(b.ContentMutations))
	}
	m.Buckets = len(actions)
	m.Actions = statOf(actions)
	m.Spend = statOf(spend)
	m.DBWrites = statOf(writes)
	m.ContentMutations = statOf(mutations)

	evs, err := r.store.Query(ctx, &events.Query{
		Types:   []events.EventType{events.TypeDecisionMade},
		Feature: feature,
		Since:   since,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("decision history: %w", err)
	}
	var overrides, withOutcome, incidents, latencyN int
	var latency time.Duration
	for _, e := range evs {
		if e.Bool(events.DataOverride) {
			overrides++
		}
		if e.Outcome == nil {
			continue
		}
		withOutcome++
		if e.Outcome.HadIncident {
			incidents++
		}
		if e.Outcome.Latency > 0 {
			latency += e.Outcome.Latency
			latencyN++
		}
	}
	m.DataPoints = len(evs)
	if m.DataPoints > 0 {
		m.OverrideRate = float64(overrides) / float64(m.DataPoints)
	}
	if withOutcome > 0 {
		m.IncidentRate = float64(incidents) / float64(withOutcome)
	}
	if latencyN > 0 {
		m.AvgLatencyMs = float64(latency.Milliseconds()) / float64(latencyN)
	}
	return m, def, nil
}

// Recommend proposes a budget limit for a feature.
func (r *Recommender) Recommend(ctx context.Context, feature string) (*Recommendation, error) {
	if !r.registry.HasFeature(policy.Feature(feature)) {
		return nil, fmt.Errorf("unknown feature %q", feature)
	}
	m, def, err := r.Metrics(ctx, feature)
	if err != nil {
		return nil, err
	}

	rec := &Recommendation{
		Feature:     feature,
		Target:      def.Target,
		Period:      r.config.Period,
		DataPoints:  m.DataPoints,
		Metrics:     *m,
		GeneratedAt: r.clock.Now(),
	}
	if cur, ok := def.Budget(r.config.Period); ok {
		rec.Current = &cur
	}

	factor := 1 + r.config.HeadroomTarget
	if m.OverrideRate >= r.config.ElevatedOverrideRate || m.IncidentRate >= r.config.ElevatedIncidentRate {
		factor *= 1 + r.config.SafetyMargin
		rec.SafetyMarginApplied = true
	}

	proposed := policy.BudgetLimit{
		Period:              r.config.Period,
		MaxActions:          capFor(m.Actions.Peak, factor, rec.Current, func(b policy.BudgetLimit) int64 { return b.MaxActions }),
		MaxSpend:            capFor(m.Spend.Peak, factor, rec.Current, func(b policy.BudgetLimit) int64 { return b.MaxSpend }),
		MaxDBWrites:         capFor(m.DBWrites.Peak, factor, rec.Current, func(b policy.BudgetLimit) int64 { return b.MaxDBWrites }),
		MaxContentMutations: capFor(m.ContentMutations.Peak, factor, rec.Current, func(b policy.BudgetLimit) int64 { return b.MaxContentMutations }),
	}

	rec.Confidence = r.confidence(m)
	rec.Rationale = fmt.Sprintf("peak %s consumption of %.0f actions over %d buckets plus %.0f%% headroom",
		r.config.Period, m.Actions.Peak, m.Buckets, (factor-1)*100)

	switch {
	case m.DataPoints < r.config.MinDataPoints:
		rec.Withheld = true
		rec.WithheldReason = fmt.Sprintf("only %d data points, need %d", m.DataPoints, r.config.MinDataPoints)
	case rec.Confidence < r.config.ConfidenceThreshold:
		rec.Withheld = true
		rec.WithheldReason = fmt.Sprintf("confidence %.2f below %.2f", rec.Confidence, r.config.ConfidenceThreshold)
	default:
		rec.Recommended = &proposed
	}
	return rec, nil
}

// confidence grows with data and shrinks with volatile consumption.
func (r *Recommender) confidence(m *TrafficMetrics) float64 {
	if m.Buckets == 0 {
		return 0
	}
	samples := math.Min(1, float64(m.DataPoints)/float64(r.config.MinDataPoints))
	stability := 1 / (1 + m.Actions.cv())
	return math.Round(samples*(0.5+0.5*stability)*100) / 100
}

// capFor scales the observed peak. Dimensions never consumed keep their
// current cap.
func capFor(peak, factor float64, current *policy.BudgetLimit, field func(policy.BudgetLimit) int64) int64 {
	if peak == 0 {
		if current != nil {
			return field(*current)
		}
		return 0
	}
	// Rounding first keeps float error from pushing an exact product up.
	return int64(math.Ceil(math.Round(peak*factor*1e6) / 1e6))
}
