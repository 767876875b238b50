package learning

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// Outcome classifies what happened after a decision.
type Outcome string

const (
	OutcomeConfirmedCorrect   Outcome = "confirmed_correct"
	OutcomeOverrideApplied    Outcome = "override_applied"
	OutcomeIncidentAfterAllow Outcome = "incident_after_allow"
	OutcomeRecoverySuccess    Outcome = "recovery_success"
	OutcomeRecoveryFailed     Outcome = "recovery_failed"
	OutcomeUnknown            Outcome = "unknown"
)

// Outcomes lists every classification.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeConfirmedCorrect,
		OutcomeOverrideApplied,
		OutcomeIncidentAfterAllow,
		OutcomeRecoverySuccess,
		OutcomeRecoveryFailed,
		OutcomeUnknown,
	}
}

// Classify maps a decision_made event and its outcome to an Outcome.
func Classify(e *events.Event) Outcome {
	o := e.Outcome
	if o == nil {
		return OutcomeUnknown
	}
	if e.Bool(events.DataOverride) {
		return OutcomeOverrideApplied
	}
	if o.HadIncident && e.DataString(events.DataDecision) != "BLOCK" {
		return OutcomeIncidentAfterAllow
	}
	if o.WasReverted || o.DegradedSystem {
		if o.Resolved {
			return OutcomeRecoverySuccess
		}
		return OutcomeRecoveryFailed
	}
	if o.Resolved {
		return OutcomeConfirmedCorrect
	}
	return OutcomeUnknown
}

// Key is the grouping key of a pattern. Context combines the matched policy
// target and the recorded decision.
type Key struct {
	Feature string `json:"feature"`
	Action  string `json:"action"`
	Context string `json:"context"`
}

// KeyOf derives the grouping key of a decision event.
func KeyOf(e *events.Event) Key {
	return Key{
		Feature: e.Feature,
		Action:  e.Action,
		Context: e.DataString(events.DataTarget) + "/" + e.DataString(events.DataDecision),
	}
}

// Fingerprint hashes the key.
func (k Key) Fingerprint() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.Feature)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.Action)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.Context)
	return h.Sum64()
}

// Pattern is a confidence-scored cluster of outcomes sharing a key.
// Patterns are advisory and never change decisions.
type Pattern struct {
	ID string `json:"id"`
	Key

	DataPoints int             `json:"data_points"`
	Counts     map[Outcome]int `json:"counts"`

	// Dominant is the most frequent classified outcome.
	Dominant Outcome `json:"dominant"`

	// Confidence is the share of classified samples agreeing with Dominant.
	Confidence float64 `json:"confidence"`

	IncidentRate float64 `json:"incident_rate"`
	OverrideRate float64 `json:"override_rate"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Correlation is the incident history of a feature and action across all
// contexts.
type Correlation struct {
	Feature string `json:"feature"`
	Action  string `json:"action"`

	// Proceeded counts ALLOW and WARN decisions with a known outcome.
	Proceeded int `json:"proceeded"`

	// Incidents counts those followed by an incident.
	Incidents int `json:"incidents"`
}

// Rate is the share of proceeded decisions that led to an incident.
func (c Correlation) Rate() float64 {
	if c.Proceeded == 0 {
		return 0
	}
	return float64(c.Incidents) / float64(c.Proceeded)
}

// Stats summarises the last run.
type Stats struct {
	Processed int       `json:"processed"`
	Groups    int       `json:"groups"`
	Patterns  int       `json:"patterns"`
	LastRun   time.Time `json:"last_run"`
}

type group struct {
	key       Key
	counts    map[Outcome]int
	total     int
	incidents int
	overrides int
	first     time.Time
	last      time.Time
}

func newGroup(k Key) *group {
	return &group{key: k, counts: make(map[Outcome]int)}
}

func (g *group) add(e *events.Event) {
	c := Classify(e)
	g.counts[c]++
	g.total++
	if e.Outcome != nil && e.Outcome.HadIncident {
		g.incidents++
	}
	if c == OutcomeOverrideApplied {
		g.overrides++
	}
	if g.first.IsZero() || e.Timestamp.Before(g.first) {
		g.first = e.Timestamp
	}
	if e.Timestamp.After(g.last) {
		g.last = e.Timestamp
	}
}

// pattern builds the pattern view of the group. Unknown outcomes count
// towards data points but not agreement.
func (g *group) pattern() *Pattern {
	p := &Pattern{
		ID:         strconv.FormatUint(g.key.Fingerprint(), 16),
		Key:        g.key,
		DataPoints: g.total,
		Counts:     make(map[Outcome]int, len(g.counts)),
		Dominant:   OutcomeUnknown,
		FirstSeen:  g.first,
		LastSeen:   g.last,
	}

	classified, best := 0, 0
	for _, o := range Outcomes() {
		n := g.counts[o]
		if n == 0 {
			continue
		}
		p.Counts[o] = n
		if o == OutcomeUnknown {
			continue
		}
		classified += n
		if n > best {
			best = n
			p.Dominant = o
		}
	}
	if classified > 0 {
		p.Confidence = float64(best) / float64(classified)
	}
	if g.total > 0 {
		p.IncidentRate = float64(g.incidents) / float64(g.total)
		p.OverrideRate = float64(g.overrides) / float64(g.total)
	}
	return p
}
