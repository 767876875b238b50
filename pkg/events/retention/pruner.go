// Package retention prunes governance events past their retention period.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep events.
	// 0 keeps events forever.
	RetentionDays int

	// Timeout bounds a single prune run.
	// Default: 1 minute
	Timeout time.Duration
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		Timeout:       time.Minute,
	}
}

// Pruner deletes events older than the retention period.
type Pruner struct {
	store  events.Store
	config *Config
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPruner creates a pruner.
func NewPruner(store events.Store, config *Config, clock clockwork.Clock) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pruner{
		store:  store,
		config: config,
		clock:  clock,
		logger: slog.Default().With("component", "events.retention"),
	}
}

// Name identifies the pruner as a scheduled job.
func (p *Pruner) Name() string {
	return "event_retention"
}

// Run implements the scheduler job contract.
func (p *Pruner) Run(ctx context.Context) error {
	_, err := p.Prune(ctx)
	return err
}

// Prune deletes events older than RetentionDays and returns how many were
// removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		p.logger.Debug("retention disabled, skipping prune")
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	cutoff := p.Cutoff()
	deleted, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		p.logger.Info("pruned governance events",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
			"cutoff", cutoff,
		)
	}
	return deleted, nil
}

// Cutoff returns the oldest timestamp that is kept.
func (p *Pruner) Cutoff() time.Time {
	return p.clock.Now().AddDate(0, 0, -p.config.RetentionDays)
}
