package risk

import "time"

// EventType classifies a risk event.
type EventType string

const (
	EventWarningIgnored    EventType = "warning_ignored"
	EventPolicyBypassed    EventType = "policy_bypassed"
	EventIncidentOccurred  EventType = "incident_occurred"
	EventNearMiss          EventType = "near_miss"
	EventEscalationIgnored EventType = "escalation_ignored"
	EventBudgetExceeded    EventType = "budget_exceeded"
)

// TargetKind is what a risk event is about.
type TargetKind string

const (
	TargetTeam             TargetKind = "team"
	TargetPolicy           TargetKind = "policy"
	TargetFeature          TargetKind = "feature"
	TargetAutomationSystem TargetKind = "automation_system"
)

// Target is a typed reference to the subject of a risk event.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// Context describes where a risk event came from.
type Context struct {
	Feature        string `json:"feature,omitempty"`
	Team           string `json:"team,omitempty"`
	DecisionSource string `json:"decision_source,omitempty"`
	Description    string `json:"description,omitempty"`
}

// Event is a single risk observation. Events are only aggregated and are
// never referenced individually.
type Event struct {
	Type      EventType `json:"type"`
	Target    Target    `json:"target"`
	Context   Context   `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// Level buckets a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor maps a 0-100 score to a level.
func LevelFor(score float64) Level {
	switch {
	case score < 25:
		return LevelLow
	case score < 50:
		return LevelMedium
	case score < 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Factor is one contribution to a risk score.
type Factor struct {
	Name         string  `json:"name"`
	Count        int64   `json:"count"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Assessment is the systemic risk over a lookback window.
type Assessment struct {
	Score      float64   `json:"score"`
	Level      Level     `json:"level"`
	Factors    []Factor  `json:"factors"`
	Window     string    `json:"window"`
	AssessedAt time.Time `json:"assessed_at"`

	// Scope is the feature or team the assessment is limited to, if any.
	Scope Scope `json:"scope"`
}

// Scope limits an assessment. Zero fields match everything.
type Scope struct {
	Feature string `json:"feature,omitempty"`
	Team    string `json:"team,omitempty"`
}
