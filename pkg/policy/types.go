package policy

import (
	"fmt"
	"strings"
	"time"
)

// Feature identifies a guarded feature. Valid values are defined by a Registry.
type Feature string

// Action identifies an operation a guarded feature wants to perform.
type Action string

// AnyAction in an allowed-action set permits every registered action.
const AnyAction Action = "*"

// TargetType is the scope a policy applies to.
type TargetType string

const (
	// TargetGlobal matches every request.
	TargetGlobal TargetType = "global"

	// TargetFeature matches requests for a single feature.
	TargetFeature TargetType = "feature"

	// TargetEntity matches requests about a single entity.
	TargetEntity TargetType = "entity"

	// TargetLocale matches requests for a single locale.
	TargetLocale TargetType = "locale"
)

// Target is a discriminated policy scope. Value is empty for global targets and
// holds the feature name, entity id, or locale code otherwise.
type Target struct {
	Type  TargetType `yaml:"type" json:"type" validate:"required,oneof=global feature entity locale"`
	Value string     `yaml:"value,omitempty" json:"value,omitempty"`
}

// GlobalTarget returns the global target.
func GlobalTarget() Target {
	return Target{Type: TargetGlobal}
}

// FeatureTarget returns a target scoped to a feature.
func FeatureTarget(f Feature) Target {
	return Target{Type: TargetFeature, Value: string(f)}
}

// EntityTarget returns a target scoped to an entity.
func EntityTarget(id string) Target {
	return Target{Type: TargetEntity, Value: id}
}

// LocaleTarget returns a target scoped to a locale.
func LocaleTarget(code string) Target {
	return Target{Type: TargetLocale, Value: code}
}

// Key returns the stable lookup key for the target, e.g. "feature:content_enrichment".
func (t Target) Key() string {
	if t.Type == TargetGlobal {
		return string(TargetGlobal)
	}
	return string(t.Type) + ":" + t.Value
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return t.Key()
}

// Equal reports whether two targets have the same type and scoping field.
func (t Target) Equal(other Target) bool {
	return t.Type == other.Type && t.Value == other.Value
}

// ParseTarget parses a key produced by Target.Key.
func ParseTarget(key string) (Target, error) {
	if key == string(TargetGlobal) {
		return GlobalTarget(), nil
	}

	typ, value, ok := strings.Cut(key, ":")
	if !ok || value == "" {
		return Target{}, fmt.Errorf("invalid target key %q", key)
	}

	switch TargetType(typ) {
	case TargetFeature, TargetEntity, TargetLocale:
		return Target{Type: TargetType(typ), Value: value}, nil
	default:
		return Target{}, fmt.Errorf("invalid target type %q", typ)
	}
}

// ApprovalLevel controls whether a human must sign off on actions.
type ApprovalLevel string

const (
	// ApprovalAuto lets actions run without human involvement.
	ApprovalAuto ApprovalLevel = "auto"

	// ApprovalReview surfaces actions for review while letting them proceed.
	ApprovalReview ApprovalLevel = "review"

	// ApprovalManual requires explicit human approval.
	ApprovalManual ApprovalLevel = "manual"
)

// RequiresHuman reports whether the level needs human involvement.
func (a ApprovalLevel) RequiresHuman() bool {
	return a == ApprovalReview || a == ApprovalManual
}

// Period is a recurring budget bucket.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods returns every period from shortest to longest.
func Periods() []Period {
	return []Period{PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly}
}

// BudgetLimit caps consumption in each resource dimension for one period.
// Zero is a valid and fully restrictive cap.
type BudgetLimit struct {
	Period Period `yaml:"period" json:"period" validate:"required,oneof=hourly daily weekly monthly"`

	// MaxActions caps the number of actions.
	MaxActions int64 `yaml:"max_actions" json:"max_actions" validate:"gte=0"`

	// MaxSpend caps spend in minor currency units (cents).
	MaxSpend int64 `yaml:"max_spend" json:"max_spend" validate:"gte=0"`

	// MaxDBWrites caps database writes.
	MaxDBWrites int64 `yaml:"max_db_writes" json:"max_db_writes" validate:"gte=0"`

	// MaxContentMutations caps content mutations.
	MaxContentMutations int64 `yaml:"max_content_mutations" json:"max_content_mutations" validate:"gte=0"`
}

// Scale returns a copy of the limit with every cap multiplied by factor.
func (b BudgetLimit) Scale(factor float64) BudgetLimit {
	scale := func(v int64) int64 { return int64(float64(v) * factor) }
	return BudgetLimit{
		Period:              b.Period,
		MaxActions:          scale(b.MaxActions),
		MaxSpend:            scale(b.MaxSpend),
		MaxDBWrites:         scale(b.MaxDBWrites),
		MaxContentMutations: scale(b.MaxContentMutations),
	}
}

// Definition is a versioned policy.
//
// Definitions held by a Snapshot are shared between goroutines and must not be
// modified. Use Clone to derive a new definition.
type Definition struct {
	ID       string `yaml:"id" json:"id" validate:"required,max=128"`
	Name     string `yaml:"name" json:"name" validate:"required,max=256"`
	Target   Target `yaml:"target" json:"target"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Priority int    `yaml:"priority" json:"priority" validate:"gte=0"`

	AllowedActions []Action `yaml:"allowed_actions" json:"allowed_actions" validate:"dive,registered_action"`
	BlockedActions []Action `yaml:"blocked_actions" json:"blocked_actions" validate:"dive,registered_action"`

	Budgets    []BudgetLimit `yaml:"budgets" json:"budgets" validate:"min=1,dive"`
	Approval   ApprovalLevel `yaml:"approval" json:"approval" validate:"required,oneof=auto review manual"`
	TimeWindow *TimeWindow   `yaml:"time_window,omitempty" json:"time_window,omitempty" validate:"omitempty"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at"`
}

// IsBlocked reports whether the action is in the blocked-action set.
func (d *Definition) IsBlocked(a Action) bool {
	for _, b := range d.BlockedActions {
		if b == a {
			return true
		}
	}
	return false
}

// IsAllowed reports whether the action is in the allowed-action set.
func (d *Definition) IsAllowed(a Action) bool {
	for _, allowed := range d.AllowedActions {
		if allowed == a || allowed == AnyAction {
			return true
		}
	}
	return false
}

// Budget returns the limit configured for a period.
func (d *Definition) Budget(p Period) (BudgetLimit, bool) {
	for _, b := range d.Budgets {
		if b.Period == p {
			return b, true
		}
	}
	return BudgetLimit{}, false
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	c := *d
	c.AllowedActions = append([]Action(nil), d.AllowedActions...)
	c.BlockedActions = append([]Action(nil), d.BlockedActions...)
	c.Budgets = append([]BudgetLimit(nil), d.Budgets...)
	if d.TimeWindow != nil {
		tw := *d.TimeWindow
		tw.Weekdays = append([]time.Weekday(nil), d.TimeWindow.Weekdays...)
		c.TimeWindow = &tw
	}
	return &c
}

// ResolveContext describes the request a policy is resolved for.
type ResolveContext struct {
	Feature  Feature
	EntityID string
	Locale   string
}

// Matches reports whether the target applies to the context.
func (t Target) Matches(rc ResolveContext) bool {
	switch t.Type {
	case TargetGlobal:
		return true
	case TargetFeature:
		return t.Value == string(rc.Feature)
	case TargetEntity:
		return rc.EntityID != "" && t.Value == rc.EntityID
	case TargetLocale:
		return rc.Locale != "" && t.Value == rc.Locale
	default:
		return false
	}
}
