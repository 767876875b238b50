package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "ledger.backend").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error concerns field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateGovernance(&cfg.Governance)...)
	errs = append(errs, validateRegistry(&cfg.Registry)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateAnalysis(cfg)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func positive(field string, d time.Duration) []FieldError {
	if d <= 0 {
		return []FieldError{{Field: field, Message: "must be positive"}}
	}
	return nil
}

func positiveInt(field string, n int) []FieldError {
	if n <= 0 {
		return []FieldError{{Field: field, Message: "must be positive"}}
	}
	return nil
}

func fraction(field string, f float64, allowZero bool) []FieldError {
	if f < 0 || f > 1 || (!allowZero && f == 0) {
		return []FieldError{{Field: field, Message: fmt.Sprintf("must be between 0 and 1, got %g", f)}}
	}
	return nil
}

func oneOf(field, value string, options ...string) []FieldError {
	for _, o := range options {
		if value == o {
			return nil
		}
	}
	return []FieldError{{
		Field:   field,
		Message: fmt.Sprintf("must be one of %s, got %q", strings.Join(options, ", "), value),
	}}
}

func validateGovernance(g *GovernanceConfig) []FieldError {
	var errs []FieldError
	errs = append(errs, positive("governance.evaluation_timeout", g.EvaluationTimeout)...)
	errs = append(errs, positive("governance.budget_check_timeout", g.BudgetCheckTimeout)...)
	if g.BudgetCheckTimeout > g.EvaluationTimeout && g.EvaluationTimeout > 0 {
		errs = append(errs, FieldError{
			Field:   "governance.budget_check_timeout",
			Message: "must not exceed governance.evaluation_timeout",
		})
	}
	return errs
}

func validateRegistry(r *RegistryConfig) []FieldError {
	if len(r.Features) == 0 && len(r.Actions) == 0 {
		return nil
	}

	var errs []FieldError
	if len(r.Features) == 0 {
		errs = append(errs, FieldError{Field: "registry.features", Message: "must not be empty when actions are listed"})
	}
	if len(r.Actions) == 0 {
		errs = append(errs, FieldError{Field: "registry.actions", Message: "must not be empty when features are listed"})
	}

	seen := make(map[policy.Feature]bool, len(r.Features))
	for i, f := range r.Features {
		field := fmt.Sprintf("registry.features[%d].name", i)
		switch {
		case f.Name == "":
			errs = append(errs, FieldError{Field: field, Message: "is required"})
		case seen[f.Name]:
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate feature %q", f.Name)})
		}
		seen[f.Name] = true
	}

	seenActions := make(map[string]bool, len(r.Actions))
	for i, a := range r.Actions {
		field := fmt.Sprintf("registry.actions[%d]", i)
		switch {
		case a == "":
			errs = append(errs, FieldError{Field: field, Message: "must not be empty"})
		case a == string(policy.AnyAction):
			errs = append(errs, FieldError{Field: field, Message: "the wildcard is not a registrable action"})
		case seenActions[a]:
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate action %q", a)})
		}
		seenActions[a] = true
	}
	return errs
}

func validatePolicy(p *PolicyConfig) []FieldError {
	var errs []FieldError
	if p.Path == "" {
		errs = append(errs, FieldError{Field: "policy.path", Message: "is required"})
	}
	if p.Watch {
		errs = append(errs, positive("policy.debounce", p.Debounce)...)
	}
	return errs
}

func validateLedger(l *LedgerConfig) []FieldError {
	var errs []FieldError
	errs = append(errs, oneOf("ledger.backend", l.Backend, "memory", "sqlite", "redis")...)
	if _, err := time.LoadLocation(l.Timezone); err != nil {
		errs = append(errs, FieldError{Field: "ledger.timezone", Message: fmt.Sprintf("unknown timezone %q", l.Timezone)})
	}
	errs = append(errs, positive("ledger.retention", l.Retention)...)

	switch l.Backend {
	case "sqlite":
		if l.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "ledger.sqlite.path", Message: "is required for the sqlite backend"})
		}
	case "redis":
		if l.Redis.Addr == "" {
			errs = append(errs, FieldError{Field: "ledger.redis.addr", Message: "is required for the redis backend"})
		} else if _, _, err := net.SplitHostPort(l.Redis.Addr); err != nil {
			errs = append(errs, FieldError{Field: "ledger.redis.addr", Message: fmt.Sprintf("must be host:port: %v", err)})
		}
		if l.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "ledger.redis.db", Message: "must not be negative"})
		}
	}
	return errs
}

func validateEvents(e *EventsConfig) []FieldError {
	var errs []FieldError
	errs = append(errs, oneOf("events.backend", e.Backend, "memory", "sqlite")...)
	if e.Backend == "sqlite" {
		if e.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "events.sqlite.path", Message: "is required for the sqlite backend"})
		}
		errs = append(errs, positiveInt("events.sqlite.max_open_conns", e.SQLite.MaxOpenConns)...)
		if e.SQLite.MaxIdleConns > e.SQLite.MaxOpenConns {
			errs = append(errs, FieldError{Field: "events.sqlite.max_idle_conns", Message: "must not exceed max_open_conns"})
		}
	}
	errs = append(errs, positiveInt("events.recorder.async_buffer", e.Recorder.AsyncBuffer)...)
	errs = append(errs, positive("events.recorder.write_timeout", e.Recorder.WriteTimeout)...)
	errs = append(errs, positiveInt("events.outcome_retries", e.OutcomeRetries)...)
	return errs
}

func validateAnalysis(cfg *Config) []FieldError {
	var errs []FieldError

	if cfg.Overrides.MaxTTL < time.Minute {
		errs = append(errs, FieldError{Field: "overrides.max_ttl", Message: "must be at least 1m"})
	}

	errs = append(errs, positive("risk.lookback", cfg.Risk.Lookback)...)
	if cfg.Risk.Saturation <= 0 {
		errs = append(errs, FieldError{Field: "risk.saturation", Message: "must be positive"})
	}
	for name, w := range cfg.Risk.Weights {
		if w < 0 {
			errs = append(errs, FieldError{Field: "risk.weights." + name, Message: "must not be negative"})
		}
	}

	d := &cfg.Drift
	errs = append(errs, positive("drift.baseline_window", d.BaselineWindow)...)
	errs = append(errs, positive("drift.current_window", d.CurrentWindow)...)
	if d.CurrentWindow >= d.BaselineWindow {
		errs = append(errs, FieldError{Field: "drift.current_window", Message: "must be shorter than drift.baseline_window"})
	}
	errs = append(errs, positiveInt("drift.min_samples", d.MinSamples)...)
	errs = append(errs, fraction("drift.thresholds.budget_underutilization", d.Thresholds.BudgetUnderutilization, false)...)
	errs = append(errs, fraction("drift.thresholds.accuracy_decline", d.Thresholds.AccuracyDecline, false)...)

	l := &cfg.Learning
	errs = append(errs, positiveInt("learning.min_data_points", l.MinDataPoints)...)
	errs = append(errs, fraction("learning.confidence_threshold", l.ConfidenceThreshold, false)...)
	errs = append(errs, fraction("learning.dangerous_incident_rate", l.DangerousIncidentRate, false)...)
	errs = append(errs, positive("learning.lookback", l.Lookback)...)

	r := &cfg.Recommender
	errs = append(errs, positive("recommender.lookback", r.Lookback)...)
	if r.HeadroomTarget < 0 {
		errs = append(errs, FieldError{Field: "recommender.headroom_target", Message: "must not be negative"})
	}
	if r.SafetyMargin < 0 {
		errs = append(errs, FieldError{Field: "recommender.safety_margin", Message: "must not be negative"})
	}
	errs = append(errs, fraction("recommender.confidence_threshold", r.ConfidenceThreshold, false)...)
	errs = append(errs, positiveInt("recommender.min_data_points", r.MinDataPoints)...)

	s := &cfg.Simulator
	errs = append(errs, positive("simulator.timeout", s.Timeout)...)
	errs = append(errs, positiveInt("simulator.max_records", s.MaxRecords)...)
	errs = append(errs, positiveInt("simulator.max_concurrent", s.MaxConcurrent)...)
	errs = append(errs, positiveInt("simulator.requests_per_minute", s.RequestsPerMinute)...)

	errs = append(errs, positiveInt("explainer.cache_size", cfg.Explainer.CacheSize)...)
	return errs
}

func validateScheduler(s *SchedulerConfig) []FieldError {
	var errs []FieldError
	for _, job := range []struct {
		field, spec string
	}{
		{"scheduler.learning", s.Learning},
		{"scheduler.drift", s.Drift},
		{"scheduler.recommender", s.Recommender},
		{"scheduler.event_retention", s.EventRetention},
		{"scheduler.ledger_sweep", s.LedgerSweep},
		{"scheduler.override_prune", s.OverridePrune},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(job.spec); err != nil {
			errs = append(errs, FieldError{Field: job.field, Message: fmt.Sprintf("invalid cron schedule %q: %v", job.spec, err)})
		}
	}
	errs = append(errs, positive("scheduler.job_timeout", s.JobTimeout)...)
	return errs
}

func validateAPI(a *APIConfig) []FieldError {
	var errs []FieldError
	if _, _, err := net.SplitHostPort(a.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "api.listen_address", Message: fmt.Sprintf("must be host:port: %v", err)})
	}
	errs = append(errs, positive("api.read_timeout", a.ReadTimeout)...)
	errs = append(errs, positive("api.write_timeout", a.WriteTimeout)...)
	errs = append(errs, positive("api.shutdown_timeout", a.ShutdownTimeout)...)
	if a.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "api.max_body_bytes", Message: "must be positive"})
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		errs = append(errs, FieldError{Field: "api.cors.allowed_origins", Message: "must not be empty when CORS is enabled"})
	}
	if a.RateLimit.Enabled {
		if a.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, FieldError{Field: "api.rate_limit.requests_per_second", Message: "must be positive"})
		}
		errs = append(errs, positiveInt("api.rate_limit.burst", a.RateLimit.Burst)...)
	}
	return errs
}

func validateTelemetry(t *TelemetryConfig) []FieldError {
	var errs []FieldError
	errs = append(errs, oneOf("telemetry.logging.level", strings.ToLower(t.Logging.Level), "debug", "info", "warn", "error")...)
	errs = append(errs, oneOf("telemetry.logging.format", strings.ToLower(t.Logging.Format), "json", "text")...)
	if t.Metrics.IsEnabled() && !strings.HasPrefix(t.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}
	if t.Tracing.Enabled {
		if t.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "is required when tracing is enabled"})
		}
		errs = append(errs, fraction("telemetry.tracing.sample_ratio", t.Tracing.SampleRatio, true)...)
	}
	return errs
}
