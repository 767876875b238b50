package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events/recorder"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events/retention"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/guard"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/learning"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy/source"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/recommend"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/risk"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/scheduler"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/simulate"
)

// Job names registered with the scheduler.
const (
	JobLearning       = "learning"
	JobDrift          = "drift"
	JobRecommender    = "recommender"
	JobEventRetention = "event_retention"
	JobLedgerSweep    = "ledger_sweep"
	JobOverridePrune  = "override_prune"
)

// overrideKeep is how long expired overrides stay listed before pruning.
const overrideKeep = 24 * time.Hour

// Backends are the storage backends a Core runs on.
type Backends struct {
	Ledger storage.Backend
	Events events.Store
}

// Options carries the optional collaborators of a Core.
type Options struct {
	Clock      clockwork.Clock
	Registerer prometheus.Registerer
	Tracer     trace.Tracer

	// Policies seeds the policy store instead of loading the configured
	// policy path. The watcher is disabled when set.
	Policies []*policy.Definition
}

// Core is the assembled governance core.
type Core struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger *slog.Logger

	registry  *policy.Registry
	policies  *policy.Store
	reloader  *source.Reloader
	ledger    *ledger.Ledger
	overrides *override.Store
	events    events.Store
	recorder  *recorder.Recorder
	engine    *decision.Engine
	guard     *guard.Guard

	riskLog     *risk.Log
	assessor    *risk.Assessor
	learning    *learning.Engine
	drift       *drift.Detector
	recommender *recommend.Recommender
	simulator   *simulate.Simulator
	explainer   *explain.Explainer
	scheduler   *scheduler.Scheduler

	// onDemand throttles simulations and manual job runs.
	onDemand *rate.Limiter

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New assembles a Core on the given backends. The Core owns the backends
// from then on and closes them in Close, also when New fails.
func New(ctx context.Context, cfg *config.Config, b Backends, opts Options) (*Core, error) {
	if b.Ledger == nil || b.Events == nil {
		return nil, errors.New("governance: ledger and event backends are required")
	}
	closeBackends := func() {
		_ = b.Ledger.Close()
		_ = b.Events.Close()
	}

	if cfg == nil {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	loc, err := time.LoadLocation(cfg.Ledger.Timezone)
	if err != nil {
		closeBackends()
		return nil, fmt.Errorf("invalid ledger timezone %q: %w", cfg.Ledger.Timezone, err)
	}

	c := &Core{
		cfg:      cfg,
		clock:    opts.Clock,
		logger:   slog.Default().With("component", "governance.core"),
		registry: cfg.Registry.Build(),
		events:   b.Events,
	}

	if err := c.initPolicies(ctx, opts.Policies); err != nil {
		closeBackends()
		return nil, err
	}

	reg := opts.Registerer
	c.ledger = ledger.New(b.Ledger, c.clock, ledger.Config{
		Location:  loc,
		OpTimeout: cfg.Governance.BudgetCheckTimeout,
		Retention: cfg.Ledger.Retention,
	}, ledger.NewMetrics(reg))
	c.overrides = override.NewStore(c.clock, cfg.Overrides.MaxTTL)
	c.recorder = recorder.NewRecorder(b.Events, &recorder.Config{
		AsyncBuffer:  cfg.Events.Recorder.AsyncBuffer,
		WriteTimeout: cfg.Events.Recorder.WriteTimeout,
	})

	c.engine = decision.NewEngine(&decision.Config{
		Enabled: cfg.Governance.IsEnabled(),
		Timeout: cfg.Governance.EvaluationTimeout,
	}, c.policies, c.ledger, decision.Options{
		Registry:  c.registry,
		Overrides: c.overrides,
		Clock:     c.clock,
		Metrics:   decision.NewMetrics(reg),
		Tracer:    opts.Tracer,
	})
	c.guard = guard.New(guard.Deps{
		Engine:    c.engine,
		Policies:  c.policies,
		Ledger:    c.ledger,
		Overrides: c.overrides,
		Log:       b.Events,
		Recorder:  c.recorder,
		Clock:     c.clock,
		Tracer:    opts.Tracer,
	})

	c.riskLog = risk.NewLog(cfg.Risk.LogCapacity)
	c.assessor = risk.NewAssessor(c.riskLog, b.Events, &risk.Config{
		Lookback:   cfg.Risk.Lookback,
		Saturation: cfg.Risk.Saturation,
		Weights:    cfg.Risk.Weights,
	}, c.clock)
	c.learning = learning.NewEngine(b.Events, &learning.Config{
		MinDataPoints:         cfg.Learning.MinDataPoints,
		ConfidenceThreshold:   cfg.Learning.ConfidenceThreshold,
		Lookback:              cfg.Learning.Lookback,
		DangerousIncidentRate: cfg.Learning.DangerousIncidentRate,
		Timeout:               cfg.Learning.Timeout,
	}, c.clock)
	c.drift = drift.NewDetector(b.Events, c.policies, &drift.Config{
		BaselineWindow:    cfg.Drift.BaselineWindow,
		CurrentWindow:     cfg.Drift.CurrentWindow,
		MinSamples:        cfg.Drift.MinSamples,
		Thresholds:        cfg.Drift.Thresholds,
		SignalsPerFeature: cfg.Drift.SignalsPerFeature,
		Timeout:           cfg.Drift.Timeout,
	}, c.clock, drift.NewMetrics(reg))
	c.recommender = recommend.NewRecommender(c.ledger, b.Events, c.policies, c.registry, &recommend.Config{
		Lookback:             cfg.Recommender.Lookback,
		HeadroomTarget:       cfg.Recommender.HeadroomTarget,
		SafetyMargin:         cfg.Recommender.SafetyMargin,
		ElevatedOverrideRate: cfg.Recommender.ElevatedOverrideRate,
		ElevatedIncidentRate: cfg.Recommender.ElevatedIncidentRate,
		ConfidenceThreshold:  cfg.Recommender.ConfidenceThreshold,
		MinDataPoints:        cfg.Recommender.MinDataPoints,
	}, c.clock)
	c.simulator = simulate.NewSimulator(b.Events, c.policies, c.registry, c.learning, &simulate.Config{
		Timeout:       cfg.Simulator.Timeout,
		MaxRecords:    cfg.Simulator.MaxRecords,
		MaxConcurrent: cfg.Simulator.MaxConcurrent,
		Location:      loc,
	})

	c.explainer, err = explain.New(c.registry, cfg.Explainer.CacheSize)
	if err != nil {
		_ = c.recorder.Close()
		closeBackends()
		return nil, fmt.Errorf("failed to create explainer: %w", err)
	}

	perMinute := cfg.Simulator.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = config.DefaultSimulatorRequestsPerMin
	}
	c.onDemand = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(1, cfg.Simulator.MaxConcurrent))

	c.scheduler = scheduler.New(scheduler.NewMetrics(reg))
	if err := c.registerJobs(); err != nil {
		_ = c.recorder.Close()
		closeBackends()
		return nil, err
	}

	c.logger.Info("governance core assembled",
		"enabled", cfg.Governance.IsEnabled(),
		"policy_version", c.policies.Snapshot().Version,
		"policy_count", c.policies.Snapshot().Len(),
		"features", len(c.registry.Features()),
	)
	return c, nil
}

func (c *Core) initPolicies(ctx context.Context, seed []*policy.Definition) error {
	validator := policy.NewValidator(c.registry, c.cfg.Policy.StrictPriorities)

	if seed != nil {
		store, err := policy.NewStore(seed, validator, c.clock)
		if err != nil {
			return fmt.Errorf("invalid policies: %w", err)
		}
		c.policies = store
		return nil
	}

	src := source.NewFileSource(c.cfg.Policy.Path, slog.Default())
	defs, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	store, err := policy.NewStore(defs, validator, c.clock)
	if err != nil {
		return fmt.Errorf("invalid policies in %s: %w", c.cfg.Policy.Path, err)
	}
	c.policies = store
	c.reloader = source.NewReloader(src, store, slog.Default())
	return nil
}

func (c *Core) registerJobs() error {
	sc := c.cfg.Scheduler
	jobs := []struct {
		job      scheduler.Job
		schedule string
	}{
		{c.learning, sc.Learning},
		{c.drift, sc.Drift},
		{c.recommender, sc.Recommender},
		{retention.NewPruner(c.events, &retention.Config{
			RetentionDays: max(0, c.cfg.Events.Retention.Days),
			Timeout:       c.cfg.Events.Retention.Timeout,
		}, c.clock), sc.EventRetention},
		{scheduler.Func(JobLedgerSweep, func(ctx context.Context) error {
			_, err := c.ledger.Sweep(ctx)
			return err
		}), sc.LedgerSweep},
		{scheduler.Func(JobOverridePrune, func(context.Context) error {
			if n := c.overrides.Prune(overrideKeep); n > 0 {
				c.logger.Debug("pruned expired overrides", "count", n)
			}
			return nil
		}), sc.OverridePrune},
	}
	for _, j := range jobs {
		if err := c.scheduler.Add(j.job, j.schedule, sc.JobTimeout); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.job.Name(), err)
		}
	}
	return nil
}

// Start starts the scheduled jobs and, when configured, the policy file
// watcher. Both stop when ctx is cancelled or Close is called.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)

	if c.reloader != nil && c.cfg.Policy.Watch {
		w, err := source.NewWatcher(source.WatcherConfig{
			Path:     c.cfg.Policy.Path,
			Debounce: c.cfg.Policy.Debounce,
		}, slog.Default())
		if err != nil {
			cancel()
			return err
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.reloader.Watch(ctx, w); err != nil {
				c.logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}

	c.scheduler.Start(ctx)
	c.cancel = cancel
	return nil
}

// Close stops background work, drains the recorder and closes the
// backends. It is safe to call more than once.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		c.scheduler.Stop()
		c.wg.Wait()

		var errs []error
		if err := c.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
		if err := c.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
		if err := c.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Config returns the configuration the core was built from.
func (c *Core) Config() *config.Config {
	return c.cfg
}

// Registry returns the feature and action registry.
func (c *Core) Registry() *policy.Registry {
	return c.registry
}

// Scheduler returns the background job scheduler.
func (c *Core) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}
