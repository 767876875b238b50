package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// Config tunes the risk score.
type Config struct {
	// Lookback is the window assessed (default: 7 days).
	Lookback time.Duration

	// Saturation controls how fast the score approaches 100; a raw weight
	// equal to Saturation scores about 63 (default: 40).
	Saturation float64

	// Weights per factor name. Missing entries use DefaultWeights.
	Weights map[string]float64
}

// Factor names beyond the risk event types.
const (
	FactorIncidentOutcome = "incident_outcome"
	FactorRevertedOutcome = "reverted_outcome"
	FactorDegradedOutcome = "degraded_outcome"
	FactorOverride        = "override_applied"
	FactorBlocked         = "blocked_decision"
)

// DefaultWeights are the per-occurrence weights of each factor.
var DefaultWeights = map[string]float64{
	string(EventIncidentOccurred):  8,
	string(EventPolicyBypassed):    5,
	string(EventWarningIgnored):    3,
	string(EventEscalationIgnored): 4,
	string(EventNearMiss):          2,
	string(EventBudgetExceeded):    1,
	FactorIncidentOutcome:          10,
	FactorRevertedOutcome:          4,
	FactorDegradedOutcome:          6,
	FactorOverride:                 1,
	FactorBlocked:                  0.1,
}

// DefaultConfig returns the default risk configuration.
func DefaultConfig() *Config {
	return &Config{Lookback: 7 * 24 * time.Hour, Saturation: 40}
}

// Assessor computes systemic risk from the risk log and the outcomes in
// the governance event log.
type Assessor struct {
	log    *Log
	store  events.Store
	config *Config
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewAssessor creates an assessor. store may be nil.
func NewAssessor(log *Log, store events.Store, config *Config, clock clockwork.Clock) *Assessor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultConfig().Lookback
	}
	if config.Saturation <= 0 {
		config.Saturation = DefaultConfig().Saturation
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Assessor{
		log:    log,
		store:  store,
		config: config,
		clock:  clock,
		logger: slog.Default().With("component", "risk.assessor"),
	}
}

// Assess scores systemic risk within scope.
func (a *Assessor) Assess(ctx context.Context, scope Scope) (*Assessment, error) {
	now := a.clock.Now()
	since := now.Add(-a.config.Lookback)
	counts := make(map[string]int64)

	if a.log != nil {
		for _, e := range a.log.Since(since, scope) {
			counts[string(e.Type)]++
		}
	}

	if a.store != nil {
		q := &events.Query{
			Types:   []events.EventType{events.TypeDecisionMade, events.TypeOverrideApplied, events.TypeIncidentOccurred},
			Feature: scope.Feature,
			Team:    scope.Team,
			Since:   since,
		}
		evs, err := a.store.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query governance events: %w", err)
		}
		for _, e := range evs {
			switch e.Type {
			case events.TypeOverrideApplied:
				counts[FactorOverride]++
			case events.TypeIncidentOccurred:
				// Incidents already reflected on their decision's outcome are
				// counted once, there.
				if e.DataString(events.DataRelatedEvent) == "" {
					counts[string(EventIncidentOccurred)]++
				}
			case events.TypeDecisionMade:
				if e.DataString(events.DataDecision) == "BLOCK" {
					counts[FactorBlocked]++
				}
				if e.Outcome == nil {
					continue
				}
				if e.Outcome.HadIncident {
					counts[FactorIncidentOutcome]++
				}
				if e.Outcome.WasReverted {
					counts[FactorRevertedOutcome]++
				}
				if e.Outcome.DegradedSystem {
					counts[FactorDegradedOutcome]++
				}
			}
		}
	}

	result := &Assessment{
		Window:     a.config.Lookback.String(),
		AssessedAt: now,
		Scope:      scope,
	}

	var raw float64
	for name, n := range counts {
		w := a.weight(name)
		c := w * float64(n)
		raw += c
		result.Factors = append(result.Factors, Factor{Name: name, Count: n, Weight: w, Contribution: c})
	}
	sort.Slice(result.Factors, func(i, j int) bool {
		if result.Factors[i].Contribution != result.Factors[j].Contribution {
			return result.Factors[i].Contribution > result.Factors[j].Contribution
		}
		return result.Factors[i].Name < result.Factors[j].Name
	})

	result.Score = math.Round(100*(1-math.Exp(-raw/a.config.Saturation))*10) / 10
	result.Level = LevelFor(result.Score)
	return result, nil
}

func (a *Assessor) weight(name string) float64 {
	if w, ok := a.config.Weights[name]; ok {
		return w
	}
	return DefaultWeights[name]
}
