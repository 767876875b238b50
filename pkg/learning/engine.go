package learning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// Config tunes pattern promotion.
type Config struct {
	// MinDataPoints is the sample size a group needs before it becomes a
	// pattern (default: 50).
	MinDataPoints int

	// ConfidenceThreshold is the agreement a group needs (default: 0.7).
	ConfidenceThreshold float64

	// Lookback bounds the events considered (default: 30 days).
	Lookback time.Duration

	// PageSize is the query page size (default: 1000).
	PageSize int

	// DangerousIncidentRate marks patterns as dangerous (default: 0.1).
	DangerousIncidentRate float64

	// Timeout bounds one run (default: 2m).
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MinDataPoints:         50,
		ConfidenceThreshold:   0.7,
		Lookback:              30 * 24 * time.Hour,
		PageSize:              1000,
		DangerousIncidentRate: 0.1,
		Timeout:               2 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = d.MinDataPoints
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.DangerousIncidentRate <= 0 {
		c.DangerousIncidentRate = d.DangerousIncidentRate
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

// Engine derives patterns from outcome-tagged decision events. Each run
// rebuilds the pattern set from the lookback window and swaps it in, so
// outcomes attached after an earlier run are picked up.
type Engine struct {
	store  events.Store
	config *Config
	clock  clockwork.Clock
	logger *slog.Logger

	mu           sync.RWMutex
	patterns     []*Pattern
	correlations map[Key]Correlation
	stats        Stats
}

// NewEngine creates a learning engine over store.
func NewEngine(store events.Store, config *Config, clock clockwork.Clock) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		store:        store,
		config:       config,
		clock:        clock,
		logger:       slog.Default().With("component", "learning.engine"),
		correlations: make(map[Key]Correlation),
	}
}

// Name identifies the engine as a scheduled job.
func (e *Engine) Name() string {
	return "learning"
}

// Run rebuilds the pattern set.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	now := e.clock.Now()
	groups := make(map[uint64]*group)
	correlations := make(map[Key]Correlation)
	processed := 0

	q := &events.Query{
		Types:           []events.EventType{events.TypeDecisionMade},
		Since:           now.Add(-e.config.Lookback),
		OnlyWithOutcome: true,
		Limit:           e.config.PageSize,
	}
	for {
		page, err := e.store.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("learning run: %w", err)
		}
		for _, ev := range page {
			k := KeyOf(ev)
			fp := k.Fingerprint()
			g, ok := groups[fp]
			if !ok {
				g = newGroup(k)
				groups[fp] = g
			}
			g.add(ev)

			if ev.DataString(events.DataDecision) != "BLOCK" {
				ck := Key{Feature: ev.Feature, Action: ev.Action}
				c := correlations[ck]
				c.Feature, c.Action = ev.Feature, ev.Action
				c.Proceeded++
				if ev.Outcome.HadIncident {
					c.Incidents++
				}
				correlations[ck] = c
			}
		}
		processed += len(page)
		if len(page) < q.Limit {
			break
		}
		q.Offset += q.Limit
	}

	var patterns []*Pattern
	for _, g := range groups {
		if g.total < e.config.MinDataPoints {
			continue
		}
		p := g.pattern()
		if p.Confidence < e.config.ConfidenceThreshold {
			continue
		}
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].DataPoints != patterns[j].DataPoints {
			return patterns[i].DataPoints > patterns[j].DataPoints
		}
		return patterns[i].ID < patterns[j].ID
	})

	e.mu.Lock()
	e.patterns = patterns
	e.correlations = correlations
	e.stats = Stats{Processed: processed, Groups: len(groups), Patterns: len(patterns), LastRun: now}
	e.mu.Unlock()

	e.logger.Info("learning run completed",
		"processed", processed,
		"groups", len(groups),
		"patterns", len(patterns),
	)
	return nil
}

// Patterns returns the promoted patterns, largest first.
func (e *Engine) Patterns() []*Pattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Pattern(nil), e.patterns...)
}

// PatternsFor returns the promoted patterns of a feature.
func (e *Engine) PatternsFor(feature string) []*Pattern {
	var out []*Pattern
	for _, p := range e.Patterns() {
		if p.Feature == feature {
			out = append(out, p)
		}
	}
	return out
}

// DangerousPatterns returns promoted patterns whose incident rate reaches
// the configured threshold, most dangerous first.
func (e *Engine) DangerousPatterns() []*Pattern {
	var out []*Pattern
	for _, p := range e.Patterns() {
		if p.IncidentRate >= e.config.DangerousIncidentRate {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IncidentRate > out[j].IncidentRate })
	return out
}

// IncidentCorrelation returns the incident history for a feature and action.
// The zero Correlation is returned when nothing is known.
func (e *Engine) IncidentCorrelation(feature, action string) Correlation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.correlations[Key{Feature: feature, Action: action}]
	if !ok {
		return Correlation{Feature: feature, Action: action}
	}
	return c
}

// Stats returns the summary of the last run.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}
