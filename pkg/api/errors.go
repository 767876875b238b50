package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/scheduler"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/simulate"
)

// Error codes returned in the error body.
const (
	codeBadRequest       = "bad_request"
	codeInvalidPolicy    = "invalid_policy"
	codeNotFound         = "not_found"
	codeConflict         = "conflict"
	codeRateLimited      = "rate_limited"
	codeMethodNotAllowed = "method_not_allowed"
	codeUnavailable      = "unavailable"
	codeInternal         = "internal_error"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []policy.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}

// writeErr maps err onto a status code and error body.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorBody{Error: ErrorDetail{
			Code:    codeInvalidPolicy,
			Message: "policy validation failed",
			Fields:  verr.Errors,
		}})
		return
	}

	status, code := classify(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, r, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, decision.ErrUnknownFeature),
		errors.Is(err, decision.ErrUnknownAction),
		errors.Is(err, ledger.ErrInvalidDelta),
		errors.Is(err, override.ErrInvalidTTL),
		errors.Is(err, simulate.ErrInvalidWindow),
		errors.Is(err, governance.ErrEmptyOutcome),
		errors.Is(err, governance.ErrInvalidRiskEvent),
		errors.Is(err, governance.ErrNoDecision),
		errors.Is(err, governance.ErrNoIncidentSubject),
		errors.Is(err, explain.ErrUnknownAudience),
		errors.Is(err, explain.ErrUnsupportedSubject):
		return http.StatusBadRequest, codeBadRequest

	case errors.Is(err, events.ErrNotFound),
		errors.Is(err, override.ErrNotFound),
		errors.Is(err, drift.ErrSignalNotFound),
		errors.Is(err, policy.ErrPolicyNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound, codeNotFound

	case errors.Is(err, drift.ErrInvalidTransition),
		errors.Is(err, scheduler.ErrJobRunning),
		errors.Is(err, events.ErrVersionConflict),
		errors.Is(err, governance.ErrNoPolicySource):
		return http.StatusConflict, codeConflict

	case errors.Is(err, governance.ErrThrottled),
		errors.Is(err, simulate.ErrTooManySimulations):
		return http.StatusTooManyRequests, codeRateLimited

	case errors.Is(err, decision.ErrNoSnapshot),
		errors.Is(err, policy.ErrNoGlobalPolicy):
		return http.StatusServiceUnavailable, codeUnavailable

	default:
		return http.StatusInternalServerError, codeInternal
	}
}
