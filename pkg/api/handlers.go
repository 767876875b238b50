package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/risk"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/simulate"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/logging"
)

const defaultMaxBody = 1 << 20

type handlers struct {
	core    *governance.Core
	maxBody int64
}

func (h *handlers) routes(r chi.Router) {
	r.Post("/evaluate", h.evaluate)
	r.Get("/status", h.status)
	r.Get("/autonomy", h.autonomy)
	r.Get("/usage", h.usage)
	r.Get("/risk", h.risk)
	r.Post("/risk/events", h.recordRiskEvent)

	r.Route("/overrides", func(r chi.Router) {
		r.Get("/", h.listOverrides)
		r.Post("/", h.grantOverride)
		r.Delete("/{id}", h.revokeOverride)
	})

	r.Post("/events/{id}/outcome", h.recordOutcome)
	r.Post("/incidents", h.recordIncident)

	r.Get("/patterns", h.patterns)
	r.Get("/patterns/dangerous", h.dangerousPatterns)

	r.Route("/drift/signals", func(r chi.Router) {
		r.Get("/", h.driftSignals)
		r.Get("/{id}", h.driftSignal)
		r.Post("/{id}/{op}", h.transitionSignal)
	})

	r.Get("/recommendations", h.recommendations)
	r.Get("/recommendations/{feature}", h.recommend)
	r.Post("/simulate", h.simulate)

	r.Route("/policies", func(r chi.Router) {
		r.Get("/", h.policies)
		r.Post("/reload", h.reloadPolicies)
		r.Put("/{id}", h.upsertPolicy)
		r.Post("/{id}/disable", h.disablePolicy)
	})

	r.Get("/jobs", h.jobs)
	r.Post("/jobs/{name}/run", h.runJob)
}

// decode reads a JSON body capped at maxBody. Unknown fields are rejected.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := h.maxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, r, http.StatusRequestEntityTooLarge, codeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "request body is empty")
		default:
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		}
		return false
	}
	return true
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

type evaluateResponse struct {
	Decision    *decision.Decision `json:"decision"`
	Explanation string             `json:"explanation,omitempty"`
}

func (h *handlers) evaluate(w http.ResponseWriter, r *http.Request) {
	var req decision.Request
	if !h.decode(w, r, &req) {
		return
	}
	ctx := logging.WithTeam(logging.WithFeature(r.Context(), string(req.Feature)), req.Team)

	d, err := h.core.Evaluate(ctx, &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	resp := evaluateResponse{Decision: d}
	if audience := r.URL.Query().Get("audience"); audience != "" {
		if resp.Explanation, err = h.core.Explain(d, explain.Audience(audience)); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.core.Status(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) autonomy(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if s := r.URL.Query().Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid window %q", s))
			return
		}
		window = d
	}
	rep, err := h.core.AutonomyImpact(r.Context(), window)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	target := policy.GlobalTarget()
	if key := r.URL.Query().Get("target"); key != "" {
		t, err := policy.ParseTarget(key)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		target = t
	}
	periods, err := h.core.Usage(r.Context(), target)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "periods": periods})
}

func (h *handlers) risk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, err := h.core.RiskAssessment(r.Context(), risk.Scope{Feature: q.Get("feature"), Team: q.Get("team")})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handlers) recordRiskEvent(w http.ResponseWriter, r *http.Request) {
	var e risk.Event
	if !h.decode(w, r, &e) {
		return
	}
	if err := h.core.RecordRiskEvent(e); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) listOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"overrides": h.core.Overrides(queryBool(r, "all"))})
}

type grantRequest struct {
	Target     policy.Target  `json:"target"`
	Feature    policy.Feature `json:"feature"`
	TTLMinutes int            `json:"ttl_minutes"`
	GrantedBy  string         `json:"granted_by"`
	Reason     string         `json:"reason"`
}

func (h *handlers) grantOverride(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Target.Type == "" {
		req.Target = policy.FeatureTarget(req.Feature)
	}
	o, err := h.core.GrantOverride(r.Context(), override.Grant{
		Target:     req.Target,
		Feature:    req.Feature,
		TTLMinutes: req.TTLMinutes,
		GrantedBy:  req.GrantedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *handlers) revokeOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.core.RevokeOverride(chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var patch events.OutcomePatch
	if !h.decode(w, r, &patch) {
		return
	}
	e, err := h.core.RecordOutcome(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) recordIncident(w http.ResponseWriter, r *http.Request) {
	var inc governance.Incident
	if !h.decode(w, r, &inc) {
		return
	}
	e, err := h.core.RecordIncident(r.Context(), inc)
	if err != nil {
		if e == nil {
			writeErr(w, r, err)
			return
		}
		slog.WarnContext(r.Context(), "incident outcome not attached", "event_id", e.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handlers) patterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": h.core.Patterns(r.URL.Query().Get("feature"))})
}

func (h *handlers) dangerousPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": h.core.DangerousPatterns()})
}

func (h *handlers) driftSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := drift.Filter{
		Feature:     q.Get("feature"),
		Type:        drift.Type(q.Get("type")),
		Status:      drift.Status(q.Get("status")),
		MinSeverity: drift.Severity(q.Get("min_severity")),
		OpenOnly:    queryBool(r, "open"),
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": h.core.DriftSignals(f)})
}

type signalResponse struct {
	Signal      *drift.Signal `json:"signal"`
	Explanation string        `json:"explanation,omitempty"`
}

func (h *handlers) driftSignal(w http.ResponseWriter, r *http.Request) {
	s, err := h.core.DriftSignal(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	resp := signalResponse{Signal: s}
	if audience := r.URL.Query().Get("audience"); audience != "" {
		if resp.Explanation, err = h.core.Explain(s, explain.Audience(audience)); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type transitionRequest struct {
	By   string `json:"by"`
	Note string `json:"note,omitempty"`
}

func (h *handlers) transitionSignal(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	var (
		s   *drift.Signal
		err error
	)
	switch op := chi.URLParam(r, "op"); op {
	case "acknowledge":
		s, err = h.core.AcknowledgeSignal(id, req.By)
	case "resolve":
		s, err = h.core.ResolveSignal(id, req.By, req.Note)
	case "dismiss":
		s, err = h.core.DismissSignal(id, req.By, req.Note)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, fmt.Sprintf("unknown signal operation %q", op))
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) recommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": h.core.Recommendations(),
		"withheld":        h.core.WithheldRecommendations(),
	})
}

func (h *handlers) recommend(w http.ResponseWriter, r *http.Request) {
	rec, err := h.core.Recommend(r.Context(), chi.URLParam(r, "feature"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type simulateRequest struct {
	Policy *policy.Definition `json:"policy"`
	Since  time.Time          `json:"since"`
	Until  time.Time          `json:"until"`
}

func (h *handlers) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Policy == nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "policy is required")
		return
	}
	res, err := h.core.Simulate(r.Context(), req.Policy, simulate.Window{Since: req.Since, Until: req.Until})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) policies(w http.ResponseWriter, r *http.Request) {
	snap := h.core.Policies()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"policies":  snap.Policies(),
	})
}

func (h *handlers) upsertPolicy(w http.ResponseWriter, r *http.Request) {
	var def policy.Definition
	if !h.decode(w, r, &def) {
		return
	}
	id := chi.URLParam(r, "id")
	if def.ID == "" {
		def.ID = id
	}
	if def.ID != id {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("policy id %q does not match path %q", def.ID, id))
		return
	}
	if err := h.core.UpsertPolicy(&def); err != nil {
		writeErr(w, r, err)
		return
	}
	stored, _ := h.core.Policies().Get(id)
	writeJSON(w, http.StatusOK, stored)
}

func (h *handlers) disablePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.core.DisablePolicy(chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reloadPolicies(w http.ResponseWriter, r *http.Request) {
	if err := h.core.ReloadPolicies(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": h.core.Policies().Version})
}

func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.core.Scheduler().Status()})
}

func (h *handlers) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.core.RunJob(r.Context(), name); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": name, "status": "completed"})
}
