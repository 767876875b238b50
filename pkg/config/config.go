package config

import (
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Config is the root configuration structure for the governor.
// It contains every setting needed to run the governance core, its
// background jobs and the HTTP query surface.
type Config struct {
	// Governance contains the decision engine settings.
	Governance GovernanceConfig `yaml:"governance"`

	// Registry lists the features and actions the deployment governs.
	Registry RegistryConfig `yaml:"registry"`

	// Policy contains policy loading settings.
	Policy PolicyConfig `yaml:"policy"`

	// Ledger contains budget ledger settings.
	Ledger LedgerConfig `yaml:"ledger"`

	// Events contains event log settings.
	Events EventsConfig `yaml:"events"`

	// Overrides contains human override settings.
	Overrides OverridesConfig `yaml:"overrides"`

	// Risk contains systemic risk assessment settings.
	Risk RiskConfig `yaml:"risk"`

	// Drift contains drift detector settings.
	Drift DriftConfig `yaml:"drift"`

	// Learning contains learning engine settings.
	Learning LearningConfig `yaml:"learning"`

	// Recommender contains budget recommender settings.
	Recommender RecommenderConfig `yaml:"recommender"`

	// Simulator contains policy simulator settings.
	Simulator SimulatorConfig `yaml:"simulator"`

	// Explainer contains explanation settings.
	Explainer ExplainerConfig `yaml:"explainer"`

	// Scheduler contains background job schedules.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// API contains HTTP server settings.
	API APIConfig `yaml:"api"`

	// Telemetry contains logging, metrics, and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GovernanceConfig contains decision engine settings.
type GovernanceConfig struct {
	// Enabled turns governance on. When disabled every action is allowed.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// EvaluationTimeout bounds a single evaluation. Evaluations that run
	// longer fail closed.
	// Default: 5s
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`

	// BudgetCheckTimeout bounds every ledger backend call.
	// Default: 3s
	BudgetCheckTimeout time.Duration `yaml:"budget_check_timeout"`
}

// IsEnabled reports whether governance is enabled.
func (g GovernanceConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// RegistryConfig lists governed features and actions. When both lists are
// empty the built-in registry is used.
type RegistryConfig struct {
	// Features is the closed set of governed features.
	Features []policy.FeatureInfo `yaml:"features"`

	// Actions is the closed set of governed actions.
	Actions []string `yaml:"actions"`
}

// Build returns the registry described by the configuration.
func (r RegistryConfig) Build() *policy.Registry {
	if len(r.Features) == 0 && len(r.Actions) == 0 {
		return policy.DefaultRegistry()
	}
	actions := make([]policy.Action, len(r.Actions))
	for i, a := range r.Actions {
		actions[i] = policy.Action(a)
	}
	return policy.NewRegistry(r.Features, actions)
}

// PolicyConfig contains policy loading settings.
type PolicyConfig struct {
	// Path is a policy file or a directory of policy files.
	// Default: "./policies"
	Path string `yaml:"path"`

	// Watch enables reloading when policy files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period after a change before reloading.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`

	// StrictPriorities rejects policy sets where two enabled policies share
	// a target kind and priority.
	// Default: false
	StrictPriorities bool `yaml:"strict_priorities"`
}

// LedgerConfig contains budget ledger settings.
type LedgerConfig struct {
	// Backend selects the bucket store.
	// Options: "memory", "sqlite", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Timezone anchors daily, weekly and monthly period boundaries.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// Retention is how long buckets are kept after their period ends.
	// Default: 768h (32 days)
	Retention time.Duration `yaml:"retention"`

	// MaxEntries bounds the memory backend. A negative value means unbounded.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`

	// SQLite configures the sqlite backend.
	SQLite LedgerSQLiteConfig `yaml:"sqlite"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`
}

// LedgerSQLiteConfig configures the sqlite ledger backend.
type LedgerSQLiteConfig struct {
	// Path is the database file.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RedisConfig configures the redis ledger backend.
type RedisConfig struct {
	// Addr is the redis host:port.
	// Required when the backend is "redis".
	Addr string `yaml:"addr"`

	// Password is the redis password.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// DB is the redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix namespaces every key.
	// Default: "governor:ledger:"
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig contains event log settings.
type EventsConfig struct {
	// Backend selects the event store.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite event store.
	SQLite EventsSQLiteConfig `yaml:"sqlite"`

	// Recorder configures asynchronous event writes.
	Recorder RecorderConfig `yaml:"recorder"`

	// Retention configures event pruning.
	Retention RetentionConfig `yaml:"retention"`

	// OutcomeRetries bounds optimistic retries when attaching outcomes.
	// Default: 5
	OutcomeRetries int `yaml:"outcome_retries"`
}

// EventsSQLiteConfig configures the sqlite event store.
type EventsSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/events.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// BusyTimeout is how long to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecorderConfig configures asynchronous event writes.
type RecorderConfig struct {
	// AsyncBuffer is the size of the write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds enqueueing and each storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig configures event pruning.
type RetentionConfig struct {
	// Days is the number of days events are kept. A negative value keeps
	// events forever.
	// Default: 90
	Days int `yaml:"days"`

	// Timeout bounds a single prune run.
	// Default: 1m
	Timeout time.Duration `yaml:"timeout"`
}

// OverridesConfig contains human override settings.
type OverridesConfig struct {
	// MaxTTL caps how long one override can last.
	// Default: 168h (7 days)
	MaxTTL time.Duration `yaml:"max_ttl"`
}

// RiskConfig contains systemic risk settings.
type RiskConfig struct {
	// Lookback is the window assessed.
	// Default: 168h
	Lookback time.Duration `yaml:"lookback"`

	// Saturation controls how fast the score approaches 100.
	// Default: 40
	Saturation float64 `yaml:"saturation"`

	// LogCapacity bounds the in-memory risk event log.
	// Default: 10000
	LogCapacity int `yaml:"log_capacity"`

	// Weights overrides the per-factor weights.
	Weights map[string]float64 `yaml:"weights"`
}

// DriftConfig contains drift detector settings.
type DriftConfig struct {
	// BaselineWindow is the history compared against.
	// Default: 168h
	BaselineWindow time.Duration `yaml:"baseline_window"`

	// CurrentWindow is the recent period under test.
	// Default: 24h
	CurrentWindow time.Duration `yaml:"current_window"`

	// MinSamples is the sample size below which nothing is signalled.
	// Default: 50
	MinSamples int `yaml:"min_samples"`

	// SignalsPerFeature bounds retained signals per feature.
	// Default: 100
	SignalsPerFeature int `yaml:"signals_per_feature"`

	// Thresholds are the deviations above which each drift type fires.
	Thresholds drift.Thresholds `yaml:"thresholds"`

	// Timeout bounds a detection run.
	// Default: 2m
	Timeout time.Duration `yaml:"timeout"`
}

// LearningConfig contains learning engine settings.
type LearningConfig struct {
	// MinDataPoints is the sample size a group needs to become a pattern.
	// Default: 50
	MinDataPoints int `yaml:"min_data_points"`

	// ConfidenceThreshold is the agreement a group needs.
	// Default: 0.7
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Lookback bounds the events considered.
	// Default: 720h (30 days)
	Lookback time.Duration `yaml:"lookback"`

	// DangerousIncidentRate marks patterns as dangerous.
	// Default: 0.1
	DangerousIncidentRate float64 `yaml:"dangerous_incident_rate"`

	// Timeout bounds a run.
	// Default: 2m
	Timeout time.Duration `yaml:"timeout"`
}

// RecommenderConfig contains budget recommender settings.
type RecommenderConfig struct {
	// Lookback bounds the consumption history considered.
	// Default: 336h (14 days)
	Lookback time.Duration `yaml:"lookback"`

	// HeadroomTarget is the margin added over peak consumption.
	// Default: 0.2
	HeadroomTarget float64 `yaml:"headroom_target"`

	// SafetyMargin is added when override or incident rates are elevated.
	// Default: 0.1
	SafetyMargin float64 `yaml:"safety_margin"`

	// ElevatedOverrideRate marks the override rate as elevated.
	// Default: 0.1
	ElevatedOverrideRate float64 `yaml:"elevated_override_rate"`

	// ElevatedIncidentRate marks the incident rate as elevated.
	// Default: 0.05
	ElevatedIncidentRate float64 `yaml:"elevated_incident_rate"`

	// ConfidenceThreshold withholds recommendations below it.
	// Default: 0.7
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MinDataPoints withholds recommendations with fewer samples.
	// Default: 100
	MinDataPoints int `yaml:"min_data_points"`
}

// SimulatorConfig contains policy simulator settings.
type SimulatorConfig struct {
	// Timeout bounds one simulation.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRecords caps the decisions replayed per run.
	// Default: 10000
	MaxRecords int `yaml:"max_records"`

	// MaxConcurrent caps simultaneous simulations.
	// Default: 3
	MaxConcurrent int `yaml:"max_concurrent"`

	// RequestsPerMinute throttles on-demand simulations and job runs.
	// Default: 30
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// ExplainerConfig contains explanation settings.
type ExplainerConfig struct {
	// CacheSize is the number of rendered explanations kept.
	// Default: 100
	CacheSize int `yaml:"cache_size"`
}

// SchedulerConfig holds cron schedules for background jobs. An empty
// schedule leaves a job to manual runs.
type SchedulerConfig struct {
	// Learning rebuilds outcome patterns.
	// Default: "*/15 * * * *"
	Learning string `yaml:"learning"`

	// Drift runs drift detection.
	// Default: "0 * * * *"
	Drift string `yaml:"drift"`

	// Recommender refreshes budget recommendations.
	// Default: "30 2 * * *"
	Recommender string `yaml:"recommender"`

	// EventRetention prunes old events.
	// Default: "0 3 * * *"
	EventRetention string `yaml:"event_retention"`

	// LedgerSweep removes ended budget buckets.
	// Default: "15 * * * *"
	LedgerSweep string `yaml:"ledger_sweep"`

	// OverridePrune drops expired overrides.
	// Default: "*/5 * * * *"
	OverridePrune string `yaml:"override_prune"`

	// JobTimeout bounds any single job run.
	// Default: 5m
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	// ListenAddress is the address the API listens on.
	// Format: "host:port"
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response. It must
	// cover the simulator timeout.
	// Default: 90s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the graceful shutdown deadline.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS contains CORS settings for the dashboard.
	CORS CORSConfig `yaml:"cors"`

	// RateLimit contains per-client rate limits.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS headers are served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods.
	// Default: ["GET", "POST", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed request headers.
	// Default: ["Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the preflight cache lifetime in seconds.
	// Default: 3600
	MaxAge int `yaml:"max_age"`
}

// RateLimitConfig contains per-client rate limits.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate per client IP.
	// Default: 20
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket size per client IP.
	// Default: 40
	Burst int `yaml:"burst"`

	// IdleTTL evicts limiters for clients that have gone quiet.
	// Default: 10m
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry settings.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled serves metrics.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path metrics are served on.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether metrics are served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	// Enabled turns tracing on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported on every span.
	// Default: "governor"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces sampled, from 0 to 1.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`
}
