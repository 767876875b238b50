package config

import (
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
)

// Default values for configuration fields.
const (
	// Governance defaults
	DefaultEvaluationTimeout  = 5 * time.Second
	DefaultBudgetCheckTimeout = 3 * time.Second

	// Policy defaults
	DefaultPolicyPath     = "./policies"
	DefaultPolicyDebounce = 100 * time.Millisecond

	// Ledger defaults
	DefaultLedgerBackend            = "memory"
	DefaultLedgerTimezone           = "UTC"
	DefaultLedgerRetention          = 32 * 24 * time.Hour
	DefaultLedgerMaxEntries         = 100000
	DefaultLedgerSQLitePath         = "data/ledger.db"
	DefaultLedgerBusyTimeout        = 5 * time.Second
	DefaultLedgerCheckpointInterval = 5 * time.Minute
	DefaultRedisKeyPrefix           = "governor:ledger:"

	// Events defaults
	DefaultEventsBackend         = "sqlite"
	DefaultEventsSQLitePath      = "data/events.db"
	DefaultEventsMaxOpenConns    = 10
	DefaultEventsMaxIdleConns    = 5
	DefaultEventsBusyTimeout     = 5 * time.Second
	DefaultRecorderAsyncBuffer   = 1000
	DefaultRecorderWriteTimeout  = 5 * time.Second
	DefaultRetentionDays         = 90
	DefaultRetentionTimeout      = time.Minute
	DefaultOutcomeRetries        = 5
	DefaultOverrideMaxTTL        = 7 * 24 * time.Hour
	DefaultRiskLookback          = 7 * 24 * time.Hour
	DefaultRiskSaturation        = 40.0
	DefaultRiskLogCapacity       = 10000
	DefaultDriftBaselineWindow   = 7 * 24 * time.Hour
	DefaultDriftCurrentWindow    = 24 * time.Hour
	DefaultDriftMinSamples       = 50
	DefaultDriftSignalsPerFeat   = 100
	DefaultDriftTimeout          = 2 * time.Minute
	DefaultLearningMinDataPoints = 50
	DefaultLearningConfidence    = 0.7
	DefaultLearningLookback      = 30 * 24 * time.Hour
	DefaultLearningDangerousRate = 0.1
	DefaultLearningTimeout       = 2 * time.Minute

	// Recommender defaults
	DefaultRecommenderLookback      = 14 * 24 * time.Hour
	DefaultRecommenderHeadroom      = 0.2
	DefaultRecommenderSafetyMargin  = 0.1
	DefaultRecommenderOverrideRate  = 0.1
	DefaultRecommenderIncidentRate  = 0.05
	DefaultRecommenderConfidence    = 0.7
	DefaultRecommenderMinDataPoints = 100
	DefaultSimulatorTimeout         = 60 * time.Second
	DefaultSimulatorMaxRecords      = 10000
	DefaultSimulatorMaxConcurrent   = 3
	DefaultSimulatorRequestsPerMin  = 30
	DefaultExplainerCacheSize       = 100
	DefaultScheduleLearning         = "*/15 * * * *"
	DefaultScheduleDrift            = "0 * * * *"
	DefaultScheduleRecommender      = "30 2 * * *"
	DefaultScheduleEventRetention   = "0 3 * * *"
	DefaultScheduleLedgerSweep      = "15 * * * *"
	DefaultScheduleOverridePrune    = "*/5 * * * *"
	DefaultSchedulerJobTimeout      = 5 * time.Minute
	DefaultListenAddress            = "127.0.0.1:8090"
	DefaultReadTimeout              = 15 * time.Second
	DefaultWriteTimeout             = 90 * time.Second
	DefaultIdleTimeout              = 120 * time.Second
	DefaultShutdownTimeout          = 30 * time.Second
	DefaultMaxBodyBytes             = int64(1 << 20)
	DefaultCORSMaxAge               = 3600
	DefaultRateLimitRequestsPerSec  = 20.0
	DefaultRateLimitBurst           = 40
	DefaultRateLimitIdleTTL         = 10 * time.Minute
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "json"
	DefaultMetricsPath              = "/metrics"
	DefaultTracingEndpoint          = "localhost:4317"
	DefaultTracingServiceName       = "governor"
	DefaultTracingSampleRatio       = 1.0
)

// Default slice values.
var (
	DefaultCORSAllowedOrigins = []string{"*"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	DefaultCORSAllowedHeaders = []string{"Content-Type", "X-Request-ID"}
)

// ApplyDefaults fills every zero-valued field with its default. Fields that
// are already set are left alone.
func ApplyDefaults(cfg *Config) {
	// Governance defaults
	if cfg.Governance.EvaluationTimeout == 0 {
		cfg.Governance.EvaluationTimeout = DefaultEvaluationTimeout
	}
	if cfg.Governance.BudgetCheckTimeout == 0 {
		cfg.Governance.BudgetCheckTimeout = DefaultBudgetCheckTimeout
	}

	// Policy defaults
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = DefaultPolicyPath
	}
	if cfg.Policy.Debounce == 0 {
		cfg.Policy.Debounce = DefaultPolicyDebounce
	}

	applyLedgerDefaults(&cfg.Ledger)
	applyEventsDefaults(&cfg.Events)

	if cfg.Overrides.MaxTTL == 0 {
		cfg.Overrides.MaxTTL = DefaultOverrideMaxTTL
	}

	// Risk defaults
	if cfg.Risk.Lookback == 0 {
		cfg.Risk.Lookback = DefaultRiskLookback
	}
	if cfg.Risk.Saturation == 0 {
		cfg.Risk.Saturation = DefaultRiskSaturation
	}
	if cfg.Risk.LogCapacity == 0 {
		cfg.Risk.LogCapacity = DefaultRiskLogCapacity
	}

	applyAnalysisDefaults(cfg)
	applySchedulerDefaults(&cfg.Scheduler)
	applyAPIDefaults(&cfg.API)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyLedgerDefaults(l *LedgerConfig) {
	if l.Backend == "" {
		l.Backend = DefaultLedgerBackend
	}
	if l.Timezone == "" {
		l.Timezone = DefaultLedgerTimezone
	}
	if l.Retention == 0 {
		l.Retention = DefaultLedgerRetention
	}
	if l.MaxEntries == 0 {
		l.MaxEntries = DefaultLedgerMaxEntries
	}
	if l.SQLite.Path == "" {
		l.SQLite.Path = DefaultLedgerSQLitePath
	}
	if l.SQLite.BusyTimeout == 0 {
		l.SQLite.BusyTimeout = DefaultLedgerBusyTimeout
	}
	if l.SQLite.CheckpointInterval == 0 {
		l.SQLite.CheckpointInterval = DefaultLedgerCheckpointInterval
	}
	if l.Redis.KeyPrefix == "" {
		l.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
}

func applyEventsDefaults(e *EventsConfig) {
	if e.Backend == "" {
		e.Backend = DefaultEventsBackend
	}
	if e.SQLite.Path == "" {
		e.SQLite.Path = DefaultEventsSQLitePath
	}
	if e.SQLite.MaxOpenConns == 0 {
		e.SQLite.MaxOpenConns = DefaultEventsMaxOpenConns
	}
	if e.SQLite.MaxIdleConns == 0 {
		e.SQLite.MaxIdleConns = DefaultEventsMaxIdleConns
	}
	if e.SQLite.BusyTimeout == 0 {
		e.SQLite.BusyTimeout = DefaultEventsBusyTimeout
	}
	if e.Recorder.AsyncBuffer == 0 {
		e.Recorder.AsyncBuffer = DefaultRecorderAsyncBuffer
	}
	if e.Recorder.WriteTimeout == 0 {
		e.Recorder.WriteTimeout = DefaultRecorderWriteTimeout
	}
	if e.Retention.Days == 0 {
		e.Retention.Days = DefaultRetentionDays
	}
	if e.Retention.Timeout == 0 {
		e.Retention.Timeout = DefaultRetentionTimeout
	}
	if e.OutcomeRetries == 0 {
		e.OutcomeRetries = DefaultOutcomeRetries
	}
}

func applyAnalysisDefaults(cfg *Config) {
	d := &cfg.Drift
	if d.BaselineWindow == 0 {
		d.BaselineWindow = DefaultDriftBaselineWindow
	}
	if d.CurrentWindow == 0 {
		d.CurrentWindow = DefaultDriftCurrentWindow
	}
	if d.MinSamples == 0 {
		d.MinSamples = DefaultDriftMinSamples
	}
	if d.SignalsPerFeature == 0 {
		d.SignalsPerFeature = DefaultDriftSignalsPerFeat
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultDriftTimeout
	}
	def := drift.DefaultThresholds()
	for _, p := range []struct {
		v   *float64
		def float64
	}{
		{&d.Thresholds.BudgetExhaustion, def.BudgetExhaustion},
		{&d.Thresholds.BudgetUnderutilization, def.BudgetUnderutilization},
		{&d.Thresholds.OverrideSpike, def.OverrideSpike},
		{&d.Thresholds.IncidentSpike, def.IncidentSpike},
		{&d.Thresholds.CostDrift, def.CostDrift},
		{&d.Thresholds.LatencyDegradation, def.LatencyDegradation},
		{&d.Thresholds.TrafficShift, def.TrafficShift},
		{&d.Thresholds.AccuracyDecline, def.AccuracyDecline},
	} {
		if *p.v == 0 {
			*p.v = p.def
		}
	}

	l := &cfg.Learning
	if l.MinDataPoints == 0 {
		l.MinDataPoints = DefaultLearningMinDataPoints
	}
	if l.ConfidenceThreshold == 0 {
		l.ConfidenceThreshold = DefaultLearningConfidence
	}
	if l.Lookback == 0 {
		l.Lookback = DefaultLearningLookback
	}
	if l.DangerousIncidentRate == 0 {
		l.DangerousIncidentRate = DefaultLearningDangerousRate
	}
	if l.Timeout == 0 {
		l.Timeout = DefaultLearningTimeout
	}

	r := &cfg.Recommender
	if r.Lookback == 0 {
		r.Lookback = DefaultRecommenderLookback
	}
	if r.HeadroomTarget == 0 {
		r.HeadroomTarget = DefaultRecommenderHeadroom
	}
	if r.SafetyMargin == 0 {
		r.SafetyMargin = DefaultRecommenderSafetyMargin
	}
	if r.ElevatedOverrideRate == 0 {
		r.ElevatedOverrideRate = DefaultRecommenderOverrideRate
	}
	if r.ElevatedIncidentRate == 0 {
		r.ElevatedIncidentRate = DefaultRecommenderIncidentRate
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = DefaultRecommenderConfidence
	}
	if r.MinDataPoints == 0 {
		r.MinDataPoints = DefaultRecommenderMinDataPoints
	}

	s := &cfg.Simulator
	if s.Timeout == 0 {
		s.Timeout = DefaultSimulatorTimeout
	}
	if s.MaxRecords == 0 {
		s.MaxRecords = DefaultSimulatorMaxRecords
	}
	if s.MaxConcurrent == 0 {
		s.MaxConcurrent = DefaultSimulatorMaxConcurrent
	}
	if s.RequestsPerMinute == 0 {
		s.RequestsPerMinute = DefaultSimulatorRequestsPerMin
	}

	if cfg.Explainer.CacheSize == 0 {
		cfg.Explainer.CacheSize = DefaultExplainerCacheSize
	}
}

func applySchedulerDefaults(s *SchedulerConfig) {
	if s.Learning == "" {
		s.Learning = DefaultScheduleLearning
	}
	if s.Drift == "" {
		s.Drift = DefaultScheduleDrift
	}
	if s.Recommender == "" {
		s.Recommender = DefaultScheduleRecommender
	}
	if s.EventRetention == "" {
		s.EventRetention = DefaultScheduleEventRetention
	}
	if s.LedgerSweep == "" {
		s.LedgerSweep = DefaultScheduleLedgerSweep
	}
	if s.OverridePrune == "" {
		s.OverridePrune = DefaultScheduleOverridePrune
	}
	if s.JobTimeout == 0 {
		s.JobTimeout = DefaultSchedulerJobTimeout
	}
}

func applyAPIDefaults(a *APIConfig) {
	if a.ListenAddress == "" {
		a.ListenAddress = DefaultListenAddress
	}
	if a.ReadTimeout == 0 {
		a.ReadTimeout = DefaultReadTimeout
	}
	if a.WriteTimeout == 0 {
		a.WriteTimeout = DefaultWriteTimeout
	}
	if a.IdleTimeout == 0 {
		a.IdleTimeout = DefaultIdleTimeout
	}
	if a.ShutdownTimeout == 0 {
		a.ShutdownTimeout = DefaultShutdownTimeout
	}
	if a.MaxBodyBytes == 0 {
		a.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = append([]string(nil), DefaultCORSAllowedOrigins...)
	}
	if len(a.CORS.AllowedMethods) == 0 {
		a.CORS.AllowedMethods = append([]string(nil), DefaultCORSAllowedMethods...)
	}
	if len(a.CORS.AllowedHeaders) == 0 {
		a.CORS.AllowedHeaders = append([]string(nil), DefaultCORSAllowedHeaders...)
	}
	if a.CORS.MaxAge == 0 {
		a.CORS.MaxAge = DefaultCORSMaxAge
	}
	if a.RateLimit.RequestsPerSecond == 0 {
		a.RateLimit.RequestsPerSecond = DefaultRateLimitRequestsPerSec
	}
	if a.RateLimit.Burst == 0 {
		a.RateLimit.Burst = DefaultRateLimitBurst
	}
	if a.RateLimit.IdleTTL == 0 {
		a.RateLimit.IdleTTL = DefaultRateLimitIdleTTL
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
}
