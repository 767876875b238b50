package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{
			name:   "budget check longer than evaluation",
			modify: func(c *Config) { c.Governance.BudgetCheckTimeout = 10 * time.Second },
			field:  "governance.budget_check_timeout",
		},
		{
			name:   "unknown timezone",
			modify: func(c *Config) { c.Ledger.Timezone = "Mars/Olympus" },
			field:  "ledger.timezone",
		},
		{
			name:   "redis without address",
			modify: func(c *Config) { c.Ledger.Backend = "redis" },
			field:  "ledger.redis.addr",
		},
		{
			name: "redis address without port",
			modify: func(c *Config) {
				c.Ledger.Backend = "redis"
				c.Ledger.Redis.Addr = "redis.internal"
			},
			field: "ledger.redis.addr",
		},
		{
			name:   "override ttl under a minute",
			modify: func(c *Config) { c.Overrides.MaxTTL = 30 * time.Second },
			field:  "overrides.max_ttl",
		},
		{
			name:   "current window not shorter than baseline",
			modify: func(c *Config) { c.Drift.CurrentWindow = c.Drift.BaselineWindow },
			field:  "drift.current_window",
		},
		{
			name:   "confidence above one",
			modify: func(c *Config) { c.Learning.ConfidenceThreshold = 1.5 },
			field:  "learning.confidence_threshold",
		},
		{
			name:   "negative risk weight",
			modify: func(c *Config) { c.Risk.Weights = map[string]float64{"near_miss": -1} },
			field:  "risk.weights.near_miss",
		},
		{
			name:   "bad cron schedule",
			modify: func(c *Config) { c.Scheduler.Drift = "every hour" },
			field:  "scheduler.drift",
		},
		{
			name:   "listen address without port",
			modify: func(c *Config) { c.API.ListenAddress = "localhost" },
			field:  "api.listen_address",
		},
		{
			name: "rate limit without rate",
			modify: func(c *Config) {
				c.API.RateLimit.Enabled = true
				c.API.RateLimit.RequestsPerSecond = -1
			},
			field: "api.rate_limit.requests_per_second",
		},
		{
			name: "tracing without endpoint",
			modify: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
				c.Telemetry.Tracing.Endpoint = ""
			},
			field: "telemetry.tracing.endpoint",
		},
		{
			name: "duplicate feature",
			modify: func(c *Config) {
				c.Registry.Features = []policy.FeatureInfo{{Name: "translation"}, {Name: "translation"}}
				c.Registry.Actions = []string{"translate"}
			},
			field: "registry.features[1].name",
		},
		{
			name: "wildcard action",
			modify: func(c *Config) {
				c.Registry.Features = []policy.FeatureInfo{{Name: "translation"}}
				c.Registry.Actions = []string{"*"}
			},
			field: "registry.actions[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if !verr.HasField(tt.field) {
				t.Errorf("Expected error on %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_EmptySchedulesAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.Recommender = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected manual-only job to validate, got %v", err)
	}
}

func TestValidationError_Message(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{Field: "ledger.backend", Message: "bad"}}}
	if one.Error() != "configuration validation failed: ledger.backend: bad" {
		t.Errorf("Unexpected message: %q", one.Error())
	}

	two := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "x"},
		{Field: "b", Message: "y"},
	}}
	if !strings.Contains(two.Error(), "with 2 errors") || !strings.Contains(two.Error(), "  - b: y") {
		t.Errorf("Unexpected message: %q", two.Error())
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	disabled := false
	cfg := &Config{
		Governance: GovernanceConfig{Enabled: &disabled, EvaluationTimeout: time.Second},
		Ledger:     LedgerConfig{Backend: "sqlite"},
		API:        APIConfig{CORS: CORSConfig{AllowedOrigins: []string{"https://ops.example"}}},
	}
	ApplyDefaults(cfg)

	if cfg.Governance.IsEnabled() {
		t.Error("Expected explicit disable to survive defaults")
	}
	if cfg.Governance.EvaluationTimeout != time.Second {
		t.Errorf("Expected 1s, got %v", cfg.Governance.EvaluationTimeout)
	}
	if cfg.Governance.BudgetCheckTimeout != DefaultBudgetCheckTimeout {
		t.Errorf("Expected default budget timeout, got %v", cfg.Governance.BudgetCheckTimeout)
	}
	if cfg.Ledger.Backend != "sqlite" {
		t.Errorf("Expected sqlite, got %q", cfg.Ledger.Backend)
	}
	if len(cfg.API.CORS.AllowedOrigins) != 1 {
		t.Errorf("Expected explicit origins kept, got %v", cfg.API.CORS.AllowedOrigins)
	}

	cfg.API.CORS.AllowedMethods[0] = "PATCH"
	if DefaultCORSAllowedMethods[0] != "GET" {
		t.Error("Expected defaults not to share backing arrays with the config")
	}
}
