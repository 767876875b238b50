package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "governor.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
governance:
  enabled: false
  evaluation_timeout: "2s"
  budget_check_timeout: "1s"

registry:
  features:
    - name: content_publishing
      display_name: Publishing
    - name: translation
  actions: [content_publish, translate]

policy:
  path: "/etc/governor/policies"
  watch: true
  strict_priorities: true

ledger:
  backend: sqlite
  timezone: "Europe/Berlin"
  sqlite:
    path: "/var/lib/governor/ledger.db"

drift:
  thresholds:
    override_spike: 0.8

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Governance.IsEnabled() {
		t.Error("Expected governance disabled")
	}
	if cfg.Governance.EvaluationTimeout != 2*time.Second {
		t.Errorf("Expected evaluation timeout 2s, got %v", cfg.Governance.EvaluationTimeout)
	}
	if cfg.Policy.Path != "/etc/governor/policies" || !cfg.Policy.Watch || !cfg.Policy.StrictPriorities {
		t.Errorf("Unexpected policy config: %+v", cfg.Policy)
	}
	if cfg.Ledger.Backend != "sqlite" || cfg.Ledger.SQLite.Path != "/var/lib/governor/ledger.db" {
		t.Errorf("Unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Drift.Thresholds.OverrideSpike != 0.8 {
		t.Errorf("Expected override spike threshold 0.8, got %v", cfg.Drift.Thresholds.OverrideSpike)
	}
	if cfg.Drift.Thresholds.IncidentSpike != 0.25 {
		t.Errorf("Expected default incident spike threshold 0.25, got %v", cfg.Drift.Thresholds.IncidentSpike)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "text" {
		t.Errorf("Unexpected logging config: %+v", cfg.Telemetry.Logging)
	}

	reg := cfg.Registry.Build()
	if !reg.HasFeature("translation") || reg.HasFeature("ai_generation") {
		t.Errorf("Expected configured registry, got features %v", reg.Features())
	}
	if reg.DisplayName("content_publishing") != "Publishing" {
		t.Errorf("Expected display name Publishing, got %q", reg.DisplayName("content_publishing"))
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if !cfg.Governance.IsEnabled() {
		t.Error("Expected governance enabled by default")
	}
	if cfg.Ledger.Backend != DefaultLedgerBackend {
		t.Errorf("Expected ledger backend %q, got %q", DefaultLedgerBackend, cfg.Ledger.Backend)
	}
	if cfg.Events.Backend != DefaultEventsBackend {
		t.Errorf("Expected events backend %q, got %q", DefaultEventsBackend, cfg.Events.Backend)
	}
	if !cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("Expected metrics enabled by default")
	}
	if len(cfg.Registry.Build().Features()) == 0 {
		t.Error("Expected the built-in registry")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "ledger:\n  backend: [unterminated\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
ledger:
  backend: cassandra
events:
  backend: postgres
`)
	_, err := LoadConfig(path)

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !verr.HasField("ledger.backend") || !verr.HasField("events.backend") {
		t.Errorf("Expected both backend errors, got %v", verr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
ledger:
  backend: memory
api:
  listen_address: "127.0.0.1:8090"
`)

	t.Setenv("GOVERNOR_GOVERNANCE_ENABLED", "false")
	t.Setenv("GOVERNOR_LEDGER_BACKEND", "redis")
	t.Setenv("GOVERNOR_LEDGER_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("GOVERNOR_LEDGER_REDIS_DB", "2")
	t.Setenv("GOVERNOR_GOVERNANCE_EVALUATION_TIMEOUT", "750ms")
	t.Setenv("GOVERNOR_GOVERNANCE_BUDGET_CHECK_TIMEOUT", "500ms")
	t.Setenv("GOVERNOR_API_LISTEN_ADDRESS", "0.0.0.0:9000")
	t.Setenv("GOVERNOR_API_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GOVERNOR_LEARNING_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("GOVERNOR_TELEMETRY_METRICS_ENABLED", "false")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Governance.IsEnabled() {
		t.Error("Expected governance disabled from env")
	}
	if cfg.Ledger.Backend != "redis" || cfg.Ledger.Redis.Addr != "redis.internal:6379" || cfg.Ledger.Redis.DB != 2 {
		t.Errorf("Unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Governance.EvaluationTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms, got %v", cfg.Governance.EvaluationTimeout)
	}
	if cfg.API.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("Expected listen address from env, got %q", cfg.API.ListenAddress)
	}
	origins := cfg.API.CORS.AllowedOrigins
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("Expected two trimmed origins, got %v", origins)
	}
	if cfg.Learning.ConfidenceThreshold != 0.9 {
		t.Errorf("Expected confidence 0.9, got %v", cfg.Learning.ConfidenceThreshold)
	}
	if cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("Expected metrics disabled from env")
	}
}

func TestLoadConfigWithEnvOverrides_AnalysisThresholds(t *testing.T) {
	tests := []struct {
		env   string
		value string
		got   func(*Config) float64
		want  float64
	}{
		{"GOVERNOR_DRIFT_THRESHOLDS_BUDGET_EXHAUSTION", "0.6", func(c *Config) float64 { return c.Drift.Thresholds.BudgetExhaustion }, 0.6},
		{"GOVERNOR_DRIFT_THRESHOLDS_BUDGET_UNDERUTILIZATION", "0.7", func(c *Config) float64 { return c.Drift.Thresholds.BudgetUnderutilization }, 0.7},
		{"GOVERNOR_DRIFT_THRESHOLDS_OVERRIDE_SPIKE", "0.4", func(c *Config) float64 { return c.Drift.Thresholds.OverrideSpike }, 0.4},
		{"GOVERNOR_DRIFT_THRESHOLDS_INCIDENT_SPIKE", "0.3", func(c *Config) float64 { return c.Drift.Thresholds.IncidentSpike }, 0.3},
		{"GOVERNOR_DRIFT_THRESHOLDS_COST_DRIFT", "0.35", func(c *Config) float64 { return c.Drift.Thresholds.CostDrift }, 0.35},
		{"GOVERNOR_DRIFT_THRESHOLDS_LATENCY_DEGRADATION", "0.75", func(c *Config) float64 { return c.Drift.Thresholds.LatencyDegradation }, 0.75},
		{"GOVERNOR_DRIFT_THRESHOLDS_TRAFFIC_SHIFT", "0.6", func(c *Config) float64 { return c.Drift.Thresholds.TrafficShift }, 0.6},
		{"GOVERNOR_DRIFT_THRESHOLDS_ACCURACY_DECLINE", "0.15", func(c *Config) float64 { return c.Drift.Thresholds.AccuracyDecline }, 0.15},
		{"GOVERNOR_LEARNING_DANGEROUS_INCIDENT_RATE", "0.2", func(c *Config) float64 { return c.Learning.DangerousIncidentRate }, 0.2},
		{"GOVERNOR_RECOMMENDER_SAFETY_MARGIN", "0.25", func(c *Config) float64 { return c.Recommender.SafetyMargin }, 0.25},
		{"GOVERNOR_RECOMMENDER_ELEVATED_OVERRIDE_RATE", "0.2", func(c *Config) float64 { return c.Recommender.ElevatedOverrideRate }, 0.2},
		{"GOVERNOR_RECOMMENDER_ELEVATED_INCIDENT_RATE", "0.1", func(c *Config) float64 { return c.Recommender.ElevatedIncidentRate }, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)

			cfg, err := LoadConfigWithEnvOverrides("")
			if err != nil {
				t.Fatalf("failed to load config: %v", err)
			}
			if got := tt.got(cfg); got != tt.want {
				t.Errorf("Expected %v from %s, got %v", tt.want, tt.env, got)
			}
		})
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
		field string
	}{
		{"duration", "GOVERNOR_SIMULATOR_TIMEOUT", "soon", "simulator.timeout"},
		{"integer", "GOVERNOR_DRIFT_MIN_SAMPLES", "many", "drift.min_samples"},
		{"boolean", "GOVERNOR_POLICY_WATCH", "sometimes", "policy.watch"},
		{"float", "GOVERNOR_RECOMMENDER_HEADROOM_TARGET", "lots", "recommender.headroom_target"},
		{"drift threshold", "GOVERNOR_DRIFT_THRESHOLDS_COST_DRIFT", "high", "drift.thresholds.cost_drift"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)

			_, err := LoadConfigWithEnvOverrides("")
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if !verr.HasField(tt.field) {
				t.Errorf("Expected error on %s, got %v", tt.field, verr.Errors)
			}
			if !strings.Contains(err.Error(), tt.env) {
				t.Errorf("Expected error to name %s, got %v", tt.env, err)
			}
		})
	}
}

func TestLoadConfigWithEnvOverrides_ValidationAfterOverride(t *testing.T) {
	t.Setenv("GOVERNOR_TELEMETRY_LOGGING_LEVEL", "verbose")

	_, err := LoadConfigWithEnvOverrides("")
	var verr ValidationError
	if !errors.As(err, &verr) || !verr.HasField("telemetry.logging.level") {
		t.Errorf("Expected logging level validation error, got %v", err)
	}
}
