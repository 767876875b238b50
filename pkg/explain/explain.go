package explain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// DefaultCacheSize bounds the explanation cache.
const DefaultCacheSize = 100

// Audience is who an explanation is written for.
type Audience string

const (
	AudienceExecutive Audience = "executive"
	AudienceManager   Audience = "manager"
	AudienceDeveloper Audience = "developer"
	AudienceOperator  Audience = "operator"
)

// Audiences lists every audience.
func Audiences() []Audience {
	return []Audience{AudienceExecutive, AudienceManager, AudienceDeveloper, AudienceOperator}
}

var (
	// ErrUnknownAudience is returned for an audience without templates.
	ErrUnknownAudience = errors.New("unknown audience")

	// ErrUnsupportedSubject is returned for values that cannot be explained.
	ErrUnsupportedSubject = errors.New("unsupported explanation subject")
)

// CacheStats reports explanation cache usage.
type CacheStats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Explainer renders decisions and drift signals as text. It holds no state
// beyond its cache.
type Explainer struct {
	registry  *policy.Registry
	decisions map[Audience]map[string]*template.Template
	signals   map[Audience]*template.Template
	cache     *lru.Cache[uint64, string]
	hits      atomic.Uint64
	misses    atomic.Uint64
}

var funcs = template.FuncMap{"join": strings.Join}

// New parses the templates and creates an explainer.
func New(registry *policy.Registry, cacheSize int) (*Explainer, error) {
	if registry == nil {
		registry = policy.DefaultRegistry()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[uint64, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create explanation cache: %w", err)
	}

	x := &Explainer{
		registry:  registry,
		decisions: make(map[Audience]map[string]*template.Template),
		signals:   make(map[Audience]*template.Template),
		cache:     cache,
	}
	for audience, byOutcome := range decisionTemplates {
		x.decisions[audience] = make(map[string]*template.Template)
		for outcome, text := range byOutcome {
			t, err := template.New(string(audience) + "." + outcome).Funcs(funcs).Parse(text)
			if err != nil {
				return nil, fmt.Errorf("parse %s %s template: %w", audience, outcome, err)
			}
			x.decisions[audience][outcome] = t
		}
	}
	for audience, text := range signalTemplates {
		t, err := template.New(string(audience) + ".signal").Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s signal template: %w", audience, err)
		}
		x.signals[audience] = t
	}
	return x, nil
}

// Explain renders a *decision.Decision or *drift.Signal.
func (x *Explainer) Explain(subject any, audience Audience) (string, error) {
	switch s := subject.(type) {
	case *decision.Decision:
		return x.ExplainDecision(s, audience)
	case *drift.Signal:
		return x.ExplainSignal(s, audience)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedSubject, subject)
	}
}

type decisionView struct {
	Feature           string
	FeatureID         string
	Action            string
	PolicyID          string
	PolicyVersion     uint64
	Target            string
	Approval          string
	Codes             []string
	Summary           string
	Retry             string
	RetryAfterSeconds int64
	Override          bool
	Infrastructure    bool
}

// ExplainDecision renders a decision for an audience.
func (x *Explainer) ExplainDecision(d *decision.Decision, audience Audience) (string, error) {
	byOutcome, ok := x.decisions[audience]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAudience, audience)
	}
	t, ok := byOutcome[string(d.Outcome)]
	if !ok {
		return "", fmt.Errorf("%w: decision outcome %q", ErrUnsupportedSubject, d.Outcome)
	}

	view := decisionView{
		Feature:           x.registry.DisplayName(d.Feature),
		FeatureID:         string(d.Feature),
		Action:            humanize(string(d.Action)),
		PolicyID:          d.MatchedPolicyID,
		PolicyVersion:     d.PolicyVersion,
		Target:            d.MatchedTarget.Key(),
		Approval:          string(d.Approval),
		Codes:             d.ReasonCodes(),
		Summary:           summarize(d.Reasons),
		RetryAfterSeconds: d.RetryAfterSeconds,
		Override:          d.OverrideActive,
	}
	if d.RetryAfterSeconds > 0 {
		view.Retry = "in " + humanDuration(d.RetryAfter())
	}
	if r := d.PrimaryReason(); r.Code.Infrastructure() {
		view.Infrastructure = true
	}
	return x.render("decision", audience, t, view)
}

type signalView struct {
	Feature      string
	FeatureID    string
	Type         string
	Description  string
	Severity     string
	Status       string
	Trend        string
	Metric       string
	Current      string
	Baseline     string
	DeviationPct string
	WindowHours  int
	SampleSize   int
	Confidence   string
	Action       string
	Suggested    string
	Urgency      string
	Rationale    string
}

// ExplainSignal renders a drift signal for an audience.
func (x *Explainer) ExplainSignal(s *drift.Signal, audience Audience) (string, error) {
	t, ok := x.signals[audience]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAudience, audience)
	}

	view := signalView{
		Feature:      x.registry.DisplayName(policy.Feature(s.Feature)),
		FeatureID:    s.Feature,
		Type:         string(s.Type),
		Description:  signalDescriptions[string(s.Type)],
		Severity:     string(s.Severity),
		Status:       string(s.Status),
		Trend:        string(s.Observation.Trend),
		Metric:       humanize(s.Observation.Metric),
		Current:      formatFloat(s.Observation.Current),
		Baseline:     formatFloat(s.Observation.Baseline),
		DeviationPct: formatFloat(s.Observation.DeviationPct),
		WindowHours:  s.Observation.WindowHours,
		SampleSize:   s.Context.SampleSize,
		Confidence:   formatFloat(s.Context.Confidence),
	}
	if r := s.Recommendation; r != nil {
		view.Action = humanize(r.Action)
		view.Urgency = r.Urgency
		view.Rationale = r.Rationale
		if r.SuggestedValue != nil {
			view.Suggested = formatFloat(*r.SuggestedValue)
		}
	}
	return x.render("signal", audience, t, view)
}

// Stats reports cache usage.
func (x *Explainer) Stats() CacheStats {
	return CacheStats{Size: x.cache.Len(), Hits: x.hits.Load(), Misses: x.misses.Load()}
}

func (x *Explainer) render(kind string, audience Audience, t *template.Template, view any) (string, error) {
	key, err := cacheKey(kind, audience, view)
	if err != nil {
		return "", err
	}
	if text, ok := x.cache.Get(key); ok {
		x.hits.Add(1)
		return text, nil
	}
	x.misses.Add(1)

	var b strings.Builder
	if err := t.Execute(&b, view); err != nil {
		return "", fmt.Errorf("render %s explanation: %w", kind, err)
	}
	text := b.String()
	x.cache.Add(key, text)
	return text, nil
}

func cacheKey(kind string, audience Audience, view any) (uint64, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return 0, fmt.Errorf("hash explanation: %w", err)
	}
	h := xxhash.New()
	_, _ = h.WriteString(kind)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(audience))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(data)
	return h.Sum64(), nil
}

func summarize(reasons []decision.Reason) string {
	msgs := make([]string, 0, len(reasons))
	for _, r := range reasons {
		msgs = append(msgs, strings.TrimSuffix(r.Message, "."))
	}
	if len(msgs) == 0 {
		return "no concerns"
	}
	return strings.Join(msgs, "; ")
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// humanDuration renders d as hours and minutes, rounding up to the minute.
func humanDuration(d time.Duration) string {
	minutes := int64((d + time.Minute - 1) / time.Minute)
	h, m := minutes/60, minutes%60
	switch {
	case h == 0:
		return plural(m, "minute")
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " " + plural(m, "minute")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.FormatInt(n, 10) + " " + unit + "s"
}
