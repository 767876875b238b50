package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GOVERNOR"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// An empty path yields the defaults. The configuration is not modified by
// environment variables; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GOVERNOR_SECTION_FIELD (e.g., GOVERNOR_LEDGER_BACKEND).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	if errs := applyEnvOverrides(cfg, newEnv()); len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment override: %w", ValidationError{Errors: errs})
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

func load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// newEnv returns a viper instance that resolves dotted keys to
// GOVERNOR_SECTION_FIELD environment variables.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// overrider applies typed environment values and collects parse failures.
type overrider struct {
	v    *viper.Viper
	errs []FieldError
}

func (o *overrider) lookup(key string) (string, bool) {
	if !o.v.IsSet(key) {
		return "", false
	}
	return strings.TrimSpace(o.v.GetString(key)), true
}

func (o *overrider) fail(key, val string, err error) {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		err = numErr.Err
	}
	o.errs = append(o.errs, FieldError{
		Field:   key,
		Message: fmt.Sprintf("invalid value %q from %s: %v", val, envName(key), err),
	})
}

func (o *overrider) setString(key string, dst *string) {
	if val, ok := o.lookup(key); ok {
		*dst = val
	}
}

func (o *overrider) setList(key string, dst *[]string) {
	val, ok := o.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (o *overrider) setBool(key string, dst *bool) {
	val, ok := o.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		o.fail(key, val, err)
		return
	}
	*dst = b
}

func (o *overrider) setBoolPtr(key string, dst **bool) {
	var b bool
	if *dst != nil {
		b = **dst
	}
	before := len(o.errs)
	if _, ok := o.lookup(key); !ok {
		return
	}
	o.setBool(key, &b)
	if len(o.errs) == before {
		*dst = &b
	}
}

func (o *overrider) setInt(key string, dst *int) {
	val, ok := o.lookup(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		o.fail(key, val, err)
		return
	}
	*dst = i
}

func (o *overrider) setInt64(key string, dst *int64) {
	val, ok := o.lookup(key)
	if !ok {
		return
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		o.fail(key, val, err)
		return
	}
	*dst = i
}

func (o *overrider) setFloat(key string, dst *float64) {
	val, ok := o.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		o.fail(key, val, err)
		return
	}
	*dst = f
}

func (o *overrider) setDuration(key string, dst *time.Duration) {
	val, ok := o.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		o.fail(key, val, err)
		return
	}
	*dst = d
}

// envName returns the environment variable consulted for key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Registry lists and risk weights are file-only settings.
func applyEnvOverrides(cfg *Config, v *viper.Viper) []FieldError {
	o := &overrider{v: v}

	// Governance overrides
	o.setBoolPtr("governance.enabled", &cfg.Governance.Enabled)
	o.setDuration("governance.evaluation_timeout", &cfg.Governance.EvaluationTimeout)
	o.setDuration("governance.budget_check_timeout", &cfg.Governance.BudgetCheckTimeout)

	// Policy overrides
	o.setString("policy.path", &cfg.Policy.Path)
	o.setBool("policy.watch", &cfg.Policy.Watch)
	o.setDuration("policy.debounce", &cfg.Policy.Debounce)
	o.setBool("policy.strict_priorities", &cfg.Policy.StrictPriorities)

	// Ledger overrides
	o.setString("ledger.backend", &cfg.Ledger.Backend)
	o.setString("ledger.timezone", &cfg.Ledger.Timezone)
	o.setDuration("ledger.retention", &cfg.Ledger.Retention)
	o.setInt("ledger.max_entries", &cfg.Ledger.MaxEntries)
	o.setString("ledger.sqlite.path", &cfg.Ledger.SQLite.Path)
	o.setDuration("ledger.sqlite.busy_timeout", &cfg.Ledger.SQLite.BusyTimeout)
	o.setString("ledger.redis.addr", &cfg.Ledger.Redis.Addr)
	o.setString("ledger.redis.password", &cfg.Ledger.Redis.Password)
	o.setInt("ledger.redis.db", &cfg.Ledger.Redis.DB)
	o.setString("ledger.redis.key_prefix", &cfg.Ledger.Redis.KeyPrefix)

	// Events overrides
	o.setString("events.backend", &cfg.Events.Backend)
	o.setString("events.sqlite.path", &cfg.Events.SQLite.Path)
	o.setInt("events.recorder.async_buffer", &cfg.Events.Recorder.AsyncBuffer)
	o.setDuration("events.recorder.write_timeout", &cfg.Events.Recorder.WriteTimeout)
	o.setInt("events.retention.days", &cfg.Events.Retention.Days)

	o.setDuration("overrides.max_ttl", &cfg.Overrides.MaxTTL)

	// Analysis overrides
	o.setDuration("risk.lookback", &cfg.Risk.Lookback)
	o.setDuration("drift.baseline_window", &cfg.Drift.BaselineWindow)
	o.setDuration("drift.current_window", &cfg.Drift.CurrentWindow)
	o.setInt("drift.min_samples", &cfg.Drift.MinSamples)
	o.setInt("drift.signals_per_feature", &cfg.Drift.SignalsPerFeature)
	o.setDuration("drift.timeout", &cfg.Drift.Timeout)
	o.setFloat("drift.thresholds.budget_exhaustion", &cfg.Drift.Thresholds.BudgetExhaustion)
	o.setFloat("drift.thresholds.budget_underutilization", &cfg.Drift.Thresholds.BudgetUnderutilization)
	o.setFloat("drift.thresholds.override_spike", &cfg.Drift.Thresholds.OverrideSpike)
	o.setFloat("drift.thresholds.incident_spike", &cfg.Drift.Thresholds.IncidentSpike)
	o.setFloat("drift.thresholds.cost_drift", &cfg.Drift.Thresholds.CostDrift)
	o.setFloat("drift.thresholds.latency_degradation", &cfg.Drift.Thresholds.LatencyDegradation)
	o.setFloat("drift.thresholds.traffic_shift", &cfg.Drift.Thresholds.TrafficShift)
	o.setFloat("drift.thresholds.accuracy_decline", &cfg.Drift.Thresholds.AccuracyDecline)
	o.setInt("learning.min_data_points", &cfg.Learning.MinDataPoints)
	o.setFloat("learning.confidence_threshold", &cfg.Learning.ConfidenceThreshold)
	o.setFloat("learning.dangerous_incident_rate", &cfg.Learning.DangerousIncidentRate)
	o.setDuration("learning.lookback", &cfg.Learning.Lookback)
	o.setDuration("learning.timeout", &cfg.Learning.Timeout)
	o.setDuration("recommender.lookback", &cfg.Recommender.Lookback)
	o.setFloat("recommender.headroom_target", &cfg.Recommender.HeadroomTarget)
	o.setFloat("recommender.safety_margin", &cfg.Recommender.SafetyMargin)
	o.setFloat("recommender.elevated_override_rate", &cfg.Recommender.ElevatedOverrideRate)
	o.setFloat("recommender.elevated_incident_rate", &cfg.Recommender.ElevatedIncidentRate)
	o.setFloat("recommender.confidence_threshold", &cfg.Recommender.ConfidenceThreshold)
	o.setInt("recommender.min_data_points", &cfg.Recommender.MinDataPoints)
	o.setDuration("simulator.timeout", &cfg.Simulator.Timeout)
	o.setInt("simulator.max_records", &cfg.Simulator.MaxRecords)
	o.setInt("simulator.max_concurrent", &cfg.Simulator.MaxConcurrent)
	o.setInt("simulator.requests_per_minute", &cfg.Simulator.RequestsPerMinute)
	o.setInt("explainer.cache_size", &cfg.Explainer.CacheSize)

	// Scheduler overrides
	o.setString("scheduler.learning", &cfg.Scheduler.Learning)
	o.setString("scheduler.drift", &cfg.Scheduler.Drift)
	o.setString("scheduler.recommender", &cfg.Scheduler.Recommender)
	o.setString("scheduler.event_retention", &cfg.Scheduler.EventRetention)
	o.setString("scheduler.ledger_sweep", &cfg.Scheduler.LedgerSweep)
	o.setString("scheduler.override_prune", &cfg.Scheduler.OverridePrune)
	o.setDuration("scheduler.job_timeout", &cfg.Scheduler.JobTimeout)

	// API overrides
	o.setString("api.listen_address", &cfg.API.ListenAddress)
	o.setDuration("api.read_timeout", &cfg.API.ReadTimeout)
	o.setDuration("api.write_timeout", &cfg.API.WriteTimeout)
	o.setDuration("api.shutdown_timeout", &cfg.API.ShutdownTimeout)
	o.setInt64("api.max_body_bytes", &cfg.API.MaxBodyBytes)
	o.setBool("api.cors.enabled", &cfg.API.CORS.Enabled)
	o.setList("api.cors.allowed_origins", &cfg.API.CORS.AllowedOrigins)
	o.setBool("api.rate_limit.enabled", &cfg.API.RateLimit.Enabled)
	o.setFloat("api.rate_limit.requests_per_second", &cfg.API.RateLimit.RequestsPerSecond)
	o.setInt("api.rate_limit.burst", &cfg.API.RateLimit.Burst)

	// Telemetry overrides
	o.setString("telemetry.logging.level", &cfg.Telemetry.Logging.Level)
	o.setString("telemetry.logging.format", &cfg.Telemetry.Logging.Format)
	o.setBool("telemetry.logging.add_source", &cfg.Telemetry.Logging.AddSource)
	o.setBoolPtr("telemetry.metrics.enabled", &cfg.Telemetry.Metrics.Enabled)
	o.setString("telemetry.metrics.path", &cfg.Telemetry.Metrics.Path)
	o.setBool("telemetry.tracing.enabled", &cfg.Telemetry.Tracing.Enabled)
	o.setString("telemetry.tracing.endpoint", &cfg.Telemetry.Tracing.Endpoint)
	o.setFloat("telemetry.tracing.sample_ratio", &cfg.Telemetry.Tracing.SampleRatio)
	o.setBool("telemetry.tracing.insecure", &cfg.Telemetry.Tracing.Insecure)

	return o.errs
}
