package explain

// Decision templates are keyed by audience and outcome.
var decisionTemplates = map[Audience]map[string]string{
	AudienceExecutive: {
		"ALLOW": `{{.Feature}} was cleared to {{.Action}} within its governance limits.`,
		"WARN":  `{{.Feature}} may {{.Action}}, but a person has to look at it first: {{.Summary}}.`,
		"BLOCK": `{{.Feature}} was stopped from doing "{{.Action}}": {{.Summary}}.` +
			`{{if .Infrastructure}} Governance could not be checked, so the system held back as a precaution.{{end}}` +
			`{{if .Retry}} It can try again {{.Retry}}.{{else}} It will not be able to proceed without a policy change.{{end}}`,
	},
	AudienceManager: {
		"ALLOW": `{{.Feature}}: "{{.Action}}" is allowed under policy {{.PolicyID}}.` +
			`{{if .Override}} A human override is currently in effect.{{end}}`,
		"WARN": `{{.Feature}}: "{{.Action}}" is proceeding under policy {{.PolicyID}} and needs ` +
			`{{if eq .Approval "manual"}}your approval{{else}}a review{{end}}. {{.Summary}}.`,
		"BLOCK": `{{.Feature}}: "{{.Action}}" was blocked by policy {{.PolicyID}}. {{.Summary}}.` +
			`{{if .Retry}} The block lifts {{.Retry}}.{{else}} Adjusting the policy or granting an override is the only way forward.{{end}}`,
	},
	AudienceDeveloper: {
		"ALLOW": `ALLOW {{.FeatureID}}/{{.Action}} policy={{.PolicyID}} target={{.Target}}` +
			`{{if .Override}} override=active{{end}}.`,
		"WARN": `WARN {{.FeatureID}}/{{.Action}} policy={{.PolicyID}} approval={{.Approval}} reasons=[{{join .Codes ", "}}]. ` +
			`The action proceeds; handle the warning_issued event if you need to track the review.`,
		"BLOCK": `BLOCK {{.FeatureID}}/{{.Action}} policy={{.PolicyID}} reasons=[{{join .Codes ", "}}]: {{.Summary}}.` +
			`{{if .RetryAfterSeconds}} BlockedError.ShouldRetry is true; retry after {{.RetryAfterSeconds}}s.` +
			`{{else}} BlockedError.ShouldRetry is false; do not retry.{{end}}`,
	},
	AudienceOperator: {
		"ALLOW": `[ok] {{.FeatureID}} {{.Action}} allowed by {{.PolicyID}} (policy v{{.PolicyVersion}}).`,
		"WARN": `[warn] {{.FeatureID}} {{.Action}} requires {{.Approval}} approval under {{.PolicyID}} ` +
			`(policy v{{.PolicyVersion}}): {{join .Codes ", "}}.`,
		"BLOCK": `[block] {{.FeatureID}} {{.Action}} denied by {{.PolicyID}} (policy v{{.PolicyVersion}}): {{join .Codes ", "}}.` +
			`{{if .Infrastructure}} Check the event store and ledger backends.{{end}}` +
			`{{if .Retry}} Retry {{.Retry}}.{{end}}`,
	},
}

// Signal templates are keyed by audience.
var signalTemplates = map[Audience]string{
	AudienceExecutive: `{{.Feature}} is behaving differently than usual: {{.Description}}. ` +
		`This is rated {{.Severity}}.{{if .Rationale}} Suggested response: {{.Rationale}}.{{end}}`,
	AudienceManager: `{{.Feature}} shows {{.Description}} ({{.Severity}} severity, {{.Trend}}). ` +
		`{{.Metric}} is {{.Current}} against a usual {{.Baseline}}.` +
		`{{if .Action}} Recommended: {{.Action}}{{if .Suggested}} to {{.Suggested}}{{end}}.{{end}}`,
	AudienceDeveloper: `drift type={{.Type}} feature={{.FeatureID}} metric={{.Metric}} current={{.Current}} ` +
		`baseline={{.Baseline}} deviation={{.DeviationPct}}% samples={{.SampleSize}} confidence={{.Confidence}}.`,
	AudienceOperator: `[drift:{{.Severity}}] {{.FeatureID}} {{.Type}}: {{.Metric}} {{.Current}} vs {{.Baseline}} ` +
		`over {{.WindowHours}}h, status {{.Status}}.{{if .Action}} Next step: {{.Action}} ({{.Urgency}}).{{end}}`,
}

var signalDescriptions = map[string]string{
	"budget_exhaustion":       "budgets running out more often",
	"budget_underutilization": "budgets going largely unused",
	"override_spike":          "a rise in human overrides",
	"incident_spike":          "a rise in incidents after allowed actions",
	"cost_drift":              "rising spend per action",
	"latency_degradation":     "slower guarded actions",
	"traffic_shift":           "a shift in request volume",
	"accuracy_decline":        "fewer decisions confirmed correct",
}
