package drift

import (
	"time"
)

// Type is a kind of drift.
type Type string

const (
	TypeBudgetExhaustion       Type = "budget_exhaustion"
	TypeBudgetUnderutilization Type = "budget_underutilization"
	TypeOverrideSpike          Type = "override_spike"
	TypeIncidentSpike          Type = "incident_spike"
	TypeCostDrift              Type = "cost_drift"
	TypeLatencyDegradation     Type = "latency_degradation"
	TypeTrafficShift           Type = "traffic_shift"
	TypeAccuracyDecline        Type = "accuracy_decline"
)

// Types lists every drift type.
func Types() []Type {
	return []Type{
		TypeBudgetExhaustion,
		TypeBudgetUnderutilization,
		TypeOverrideSpike,
		TypeIncidentSpike,
		TypeCostDrift,
		TypeLatencyDegradation,
		TypeTrafficShift,
		TypeAccuracyDecline,
	}
}

// Severity grades a signal.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// SeverityFor grades a deviation against its threshold. The result never
// decreases as the ratio grows.
func SeverityFor(deviation, threshold float64) Severity {
	ratio := deviation / threshold
	switch {
	case ratio < 1.5:
		return SeverityLow
	case ratio < 2:
		return SeverityMedium
	case ratio < 3:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Status is a signal's lifecycle state.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// Closed reports whether the signal needs no further attention.
func (s Status) Closed() bool {
	return s == StatusResolved || s == StatusDismissed
}

// Trend is the direction of a metric.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Observation is the measurement behind a signal.
type Observation struct {
	Metric   string  `json:"metric"`
	Current  float64 `json:"current"`
	Baseline float64 `json:"baseline"`

	// DeviationPct is the deviation as a percentage of the baseline.
	DeviationPct float64 `json:"deviation_pct"`

	Trend       Trend `json:"trend"`
	WindowHours int   `json:"window_hours"`
}

// SignalContext records how much data backs a signal.
type SignalContext struct {
	SampleSize int     `json:"sample_size"`
	Confidence float64 `json:"confidence"`
}

// Recommendation is a suggested response to a signal.
type Recommendation struct {
	Action         string   `json:"action"`
	SuggestedValue *float64 `json:"suggested_value,omitempty"`
	Urgency        string   `json:"urgency"`
	Rationale      string   `json:"rationale"`
}

// Signal is a detected drift.
type Signal struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	Severity       Severity        `json:"severity"`
	Feature        string          `json:"feature"`
	DetectedAt     time.Time       `json:"detected_at"`
	Observation    Observation     `json:"observation"`
	Context        SignalContext   `json:"context"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`

	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Note      string    `json:"note,omitempty"`
}

func (s *Signal) clone() *Signal {
	c := *s
	if s.Recommendation != nil {
		r := *s.Recommendation
		if r.SuggestedValue != nil {
			v := *r.SuggestedValue
			r.SuggestedValue = &v
		}
		c.Recommendation = &r
	}
	return &c
}

// Filter selects signals. Zero fields match everything.
type Filter struct {
	Feature     string
	Type        Type
	Status      Status
	MinSeverity Severity

	// OpenOnly excludes resolved and dismissed signals.
	OpenOnly bool
}

func (f Filter) matches(s *Signal) bool {
	if f.Feature != "" && s.Feature != f.Feature {
		return false
	}
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.MinSeverity != "" && s.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.OpenOnly && s.Status.Closed() {
		return false
	}
	return true
}
