package policy

import (
	"sort"
	"strings"
)

// FeatureInfo describes a registered feature.
type FeatureInfo struct {
	Name        Feature `yaml:"name" json:"name"`
	DisplayName string  `yaml:"display_name" json:"display_name"`
}

// Registry is the closed set of features and actions a deployment governs.
// Requests naming anything outside the registry are rejected at the boundary.
type Registry struct {
	features map[Feature]FeatureInfo
	actions  map[Action]struct{}
}

// NewRegistry builds a registry from the given features and actions.
func NewRegistry(features []FeatureInfo, actions []Action) *Registry {
	r := &Registry{
		features: make(map[Feature]FeatureInfo, len(features)),
		actions:  make(map[Action]struct{}, len(actions)),
	}
	for _, f := range features {
		if f.DisplayName == "" {
			f.DisplayName = humanize(string(f.Name))
		}
		r.features[f.Name] = f
	}
	for _, a := range actions {
		r.actions[a] = struct{}{}
	}
	return r
}

// DefaultRegistry returns the built-in feature and action set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		[]FeatureInfo{
			{Name: "content_enrichment", DisplayName: "Content Enrichment"},
			{Name: "content_publishing", DisplayName: "Content Publishing"},
			{Name: "ai_generation", DisplayName: "AI Generation"},
			{Name: "translation", DisplayName: "Translation"},
			{Name: "seo_optimization", DisplayName: "SEO Optimization"},
			{Name: "image_generation", DisplayName: "Image Generation"},
			{Name: "link_management", DisplayName: "Link Management"},
			{Name: "notifications", DisplayName: "Notifications"},
		},
		[]Action{
			"content_create",
			"content_update",
			"content_delete",
			"content_publish",
			"content_unpublish",
			"db_write",
			"db_delete",
			"ai_generate",
			"translate",
			"image_generate",
			"send_notification",
			"external_api_call",
		},
	)
}

// HasFeature reports whether the feature is registered.
func (r *Registry) HasFeature(f Feature) bool {
	_, ok := r.features[f]
	return ok
}

// HasAction reports whether the action is registered.
func (r *Registry) HasAction(a Action) bool {
	_, ok := r.actions[a]
	return ok
}

// DisplayName returns the human-readable feature name.
func (r *Registry) DisplayName(f Feature) string {
	if info, ok := r.features[f]; ok {
		return info.DisplayName
	}
	return humanize(string(f))
}

// Features returns the registered features sorted by name.
func (r *Registry) Features() []Feature {
	out := make([]Feature, 0, len(r.features))
	for f := range r.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Actions returns the registered actions sorted by name.
func (r *Registry) Actions() []Action {
	out := make([]Action, 0, len(r.actions))
	for a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func humanize(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
