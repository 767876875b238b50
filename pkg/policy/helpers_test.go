package policy

import "time"

func globalPolicy() *Definition {
	return &Definition{
		ID:             "global-default",
		Name:           "Global default",
		Target:         GlobalTarget(),
		Enabled:        true,
		Priority:       0,
		AllowedActions: []Action{AnyAction},
		BlockedActions: []Action{"db_delete"},
		Budgets:        []BudgetLimit{{Period: PeriodDaily, MaxActions: 1000, MaxSpend: 100000, MaxDBWrites: 1000, MaxContentMutations: 1000}},
		Approval:       ApprovalAuto,
	}
}

func featurePolicy(id string, feature Feature, priority int) *Definition {
	return &Definition{
		ID:             id,
		Name:           "Policy " + id,
		Target:         FeatureTarget(feature),
		Enabled:        true,
		Priority:       priority,
		AllowedActions: []Action{"content_update"},
		Budgets:        []BudgetLimit{{Period: PeriodDaily, MaxActions: 10}},
		Approval:       ApprovalAuto,
	}
}

func at(hour int, day time.Weekday) time.Time {
	// 2026-01-04 is a Sunday.
	return time.Date(2026, 1, 4+int(day), hour, 0, 0, 0, time.UTC)
}
