package policy

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks policy definitions before they reach a snapshot.
// Tag rules run first, then cross-field checks, then set-level checks.
type Validator struct {
	validate         *validator.Validate
	registry         *Registry
	strictPriorities bool
}

// NewValidator creates a validator bound to a feature and action registry.
// With strictPriorities set, two enabled policies on the same target with
// equal priority are rejected instead of being tie-broken at resolution.
func NewValidator(registry *Registry, strictPriorities bool) *Validator {
	if registry == nil {
		registry = DefaultRegistry()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	val := &Validator{validate: v, registry: registry, strictPriorities: strictPriorities}

	// Registration only fails for empty tag names.
	_ = v.RegisterValidation("registered_action", val.validateRegisteredAction)
	v.RegisterStructValidation(val.validateTarget, Target{})

	return val
}

// Validate checks a single definition.
func (v *Validator) Validate(def *Definition) error {
	if def == nil {
		return &ValidationError{Errors: []FieldError{{Field: "policy", Message: "is required"}}}
	}
	if errs := v.validateDefinition(def); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateSet checks every definition and the invariants that span the set.
func (v *Validator) ValidateSet(defs []*Definition) error {
	var errs []FieldError
	for _, def := range defs {
		if def == nil {
			errs = append(errs, FieldError{Field: "policy", Message: "is required"})
			continue
		}
		errs = append(errs, v.validateDefinition(def)...)
	}
	if len(errs) == 0 {
		errs = append(errs, v.validateSet(defs)...)
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (v *Validator) validateDefinition(def *Definition) []FieldError {
	var errs []FieldError

	if err := v.validate.Struct(def); err != nil {
		errs = append(errs, formatValidationErrors(def.ID, err)...)
	}

	seen := make(map[Period]int, len(def.Budgets))
	for i, b := range def.Budgets {
		if first, ok := seen[b.Period]; ok {
			errs = append(errs, FieldError{
				PolicyID: def.ID,
				Field:    fmt.Sprintf("budgets[%d].period", i),
				Message:  fmt.Sprintf("duplicate period %q (already set by budgets[%d])", b.Period, first),
			})
			continue
		}
		seen[b.Period] = i
	}

	for i, a := range def.BlockedActions {
		if a == AnyAction {
			errs = append(errs, FieldError{
				PolicyID: def.ID,
				Field:    fmt.Sprintf("blocked_actions[%d]", i),
				Message:  "wildcard is only valid in allowed_actions",
			})
			continue
		}
		for _, allowed := range def.AllowedActions {
			if allowed == a {
				errs = append(errs, FieldError{
					PolicyID: def.ID,
					Field:    fmt.Sprintf("blocked_actions[%d]", i),
					Message:  fmt.Sprintf("action %q is both allowed and blocked", a),
				})
				break
			}
		}
	}

	return errs
}

func (v *Validator) validateSet(defs []*Definition) []FieldError {
	var errs []FieldError

	ids := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if _, dup := ids[def.ID]; dup {
			errs = append(errs, FieldError{PolicyID: def.ID, Field: "id", Message: "duplicate policy id"})
		}
		ids[def.ID] = struct{}{}
	}

	maxGlobal, minScoped := -1, -1
	var lowestScoped string
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		if def.Target.Type == TargetGlobal {
			if def.Priority > maxGlobal {
				maxGlobal = def.Priority
			}
			continue
		}
		if minScoped == -1 || def.Priority < minScoped {
			minScoped = def.Priority
			lowestScoped = def.ID
		}
	}

	if maxGlobal == -1 {
		errs = append(errs, FieldError{Field: "policies", Message: ErrNoGlobalPolicy.Error()})
	} else if minScoped != -1 && minScoped <= maxGlobal {
		errs = append(errs, FieldError{
			PolicyID: lowestScoped,
			Field:    "priority",
			Message:  fmt.Sprintf("must be greater than the global policy priority %d", maxGlobal),
		})
	}

	if v.strictPriorities {
		errs = append(errs, duplicatePriorities(defs)...)
	}

	return errs
}

// duplicatePriorities reports enabled policies sharing a target and priority.
func duplicatePriorities(defs []*Definition) []FieldError {
	type slot struct {
		target   string
		priority int
	}
	owners := make(map[slot][]string)
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		s := slot{target: def.Target.Key(), priority: def.Priority}
		owners[s] = append(owners[s], def.ID)
	}

	var errs []FieldError
	for s, ids := range owners {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		errs = append(errs, FieldError{
			PolicyID: ids[1],
			Field:    "priority",
			Message: fmt.Sprintf("priority %d on target %s is shared by %s",
				s.priority, s.target, strings.Join(ids, ", ")),
		})
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].PolicyID < errs[j].PolicyID })
	return errs
}

func (v *Validator) validateRegisteredAction(fl validator.FieldLevel) bool {
	a := Action(fl.Field().String())
	return a == AnyAction || v.registry.HasAction(a)
}

func (v *Validator) validateTarget(sl validator.StructLevel) {
	t := sl.Current().Interface().(Target)

	switch t.Type {
	case TargetGlobal:
		if t.Value != "" {
			sl.ReportError(t.Value, "value", "Value", "global_value", "")
		}
	case TargetFeature:
		if !v.registry.HasFeature(Feature(t.Value)) {
			sl.ReportError(t.Value, "value", "Value", "registered_feature", t.Value)
		}
	case TargetEntity:
		if t.Value == "" {
			sl.ReportError(t.Value, "value", "Value", "required", "")
		}
	case TargetLocale:
		if err := sl.Validator().Var(t.Value, "required,bcp47_language_tag"); err != nil {
			sl.ReportError(t.Value, "value", "Value", "bcp47_language_tag", "")
		}
	}
}

// formatValidationErrors converts validator errors into field errors with
// yaml-style paths relative to the policy.
func formatValidationErrors(policyID string, err error) []FieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{PolicyID: policyID, Field: "policy", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrors))
	for _, e := range validationErrors {
		out = append(out, FieldError{
			PolicyID: policyID,
			Field:    fieldPath(e.Namespace()),
			Message:  formatSingleValidationError(e),
		})
	}
	return out
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func formatSingleValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s items", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "timezone":
		return fmt.Sprintf("unknown time zone %q", e.Value())
	case "registered_action":
		return fmt.Sprintf("unknown action %q", e.Value())
	case "registered_feature":
		return fmt.Sprintf("unknown feature %q", e.Param())
	case "global_value":
		return "must be empty for a global target"
	case "bcp47_language_tag":
		return "must be a BCP 47 language tag"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}
