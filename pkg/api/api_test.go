package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	evstorage "github.com/KBRglobal/travi-final-website-sub012/pkg/events/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/override"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/health"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testPolicies() []*policy.Definition {
	return []*policy.Definition{
		{
			ID:             "global-default",
			Name:           "Global default",
			Target:         policy.GlobalTarget(),
			Enabled:        true,
			AllowedActions: []policy.Action{policy.AnyAction},
			BlockedActions: []policy.Action{"db_delete"},
			Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: 1000}},
			Approval:       policy.ApprovalAuto,
		},
		{
			ID:             "publishing",
			Name:           "Content publishing",
			Target:         policy.FeatureTarget("content_publishing"),
			Enabled:        true,
			Priority:       500,
			AllowedActions: []policy.Action{"content_update"},
			Budgets:        []policy.BudgetLimit{{Period: policy.PeriodDaily, MaxActions: 2}},
			Approval:       policy.ApprovalAuto,
		},
	}
}

type testAPI struct {
	handler  http.Handler
	core     *governance.Core
	registry *prometheus.Registry
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) *testAPI {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(cfg)
	}

	core, err := governance.New(context.Background(), cfg, governance.Backends{
		Ledger: storage.NewMemoryBackend(0),
		Events: evstorage.NewMemoryStorage(),
	}, governance.Options{
		Clock:    clockwork.NewFakeClockAt(time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)),
		Policies: testPolicies(),
	})
	if err != nil {
		t.Fatalf("Failed to create core: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })

	reg := prometheus.NewRegistry()
	checker := health.New(time.Second)
	core.RegisterHealthChecks(checker)
	m := metrics.NewHTTPMetrics(reg)

	srv := NewServer(&cfg.API, Deps{Core: core, Health: checker, Gatherer: reg, Metrics: m})
	return &testAPI{handler: srv.Handler(), core: core, registry: reg}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	decodeBody(t, rec, &body)
	return body.Error.Code
}

func TestEvaluate(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/api/v1/evaluate?audience=operator", `{"feature":"content_publishing","action":"content_update","team":"editorial"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp evaluateResponse
	decodeBody(t, rec, &resp)
	if resp.Decision.Outcome != decision.OutcomeAllow {
		t.Errorf("Expected ALLOW, got %s", resp.Decision.Outcome)
	}
	if resp.Decision.MatchedPolicyID != "publishing" {
		t.Errorf("Expected publishing policy, got %q", resp.Decision.MatchedPolicyID)
	}
	if resp.Explanation == "" {
		t.Error("Expected an explanation for the operator audience")
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}

	rec = a.do(t, http.MethodPost, "/api/v1/evaluate", `{"feature":"content_publishing","action":"db_delete"}`)
	decodeBody(t, rec, &resp)
	if resp.Decision.Outcome != decision.OutcomeBlock {
		t.Errorf("Expected BLOCK for db_delete, got %s", resp.Decision.Outcome)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	a := newTestAPI(t, func(cfg *config.Config) { cfg.API.MaxBodyBytes = 64 })

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown feature", `{"feature":"teleportation","action":"content_update"}`, http.StatusBadRequest},
		{"unknown action", `{"feature":"translation","action":"teleport"}`, http.StatusBadRequest},
		{"malformed", `{"feature":`, http.StatusBadRequest},
		{"unknown field", `{"feature":"translation","verb":"translate"}`, http.StatusBadRequest},
		{"too large", `{"feature":"translation","action":"translate","team":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/v1/evaluate", tt.body)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != codeBadRequest {
				t.Errorf("Expected code %s, got %s", codeBadRequest, code)
			}
		})
	}
}

func TestOverrides(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/api/v1/overrides", `{"feature":"content_publishing","ttl_minutes":30,"granted_by":"ops","reason":"launch"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var o override.Override
	decodeBody(t, rec, &o)
	if o.Target.Key() != "feature:content_publishing" {
		t.Errorf("Expected feature target by default, got %s", o.Target.Key())
	}

	rec = a.do(t, http.MethodGet, "/api/v1/overrides", "")
	var list struct {
		Overrides []override.Override `json:"overrides"`
	}
	decodeBody(t, rec, &list)
	if len(list.Overrides) != 1 {
		t.Errorf("Expected 1 override, got %d", len(list.Overrides))
	}

	if rec := a.do(t, http.MethodDelete, "/api/v1/overrides/"+o.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodDelete, "/api/v1/overrides/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/overrides", `{"feature":"translation","ttl_minutes":0}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero ttl, got %d", rec.Code)
	}
}

func TestOutcomesAndIncidents(t *testing.T) {
	a := newTestAPI(t, nil)

	noop := func(context.Context) (storage.Counters, error) { return storage.Counters{}, nil }
	exec, err := a.core.Guard(context.Background(), &decision.Request{Feature: "content_publishing", Action: "content_update"}, noop)
	if err != nil {
		t.Fatalf("Guard failed: %v", err)
	}

	if rec := a.do(t, http.MethodPost, "/api/v1/events/"+exec.EventID+"/outcome", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty outcome, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/events/missing/outcome", `{"was_reverted":true}`); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown event, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/events/"+exec.EventID+"/outcome", `{"was_reverted":true}`); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := a.do(t, http.MethodPost, "/api/v1/incidents", `{"event_id":"`+exec.EventID+`","description":"broken layout"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/incidents", `{"description":"no subject"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/risk", "")
	var assessment struct {
		Score float64 `json:"score"`
	}
	decodeBody(t, rec, &assessment)
	if assessment.Score <= 0 {
		t.Errorf("Expected positive risk after an incident, got %v", assessment.Score)
	}
}

func TestQueries(t *testing.T) {
	a := newTestAPI(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"status", http.MethodGet, "/api/v1/status", "", http.StatusOK},
		{"autonomy", http.MethodGet, "/api/v1/autonomy?window=1h", "", http.StatusOK},
		{"autonomy bad window", http.MethodGet, "/api/v1/autonomy?window=soon", "", http.StatusBadRequest},
		{"usage", http.MethodGet, "/api/v1/usage?target=feature:translation", "", http.StatusOK},
		{"usage bad target", http.MethodGet, "/api/v1/usage?target=planet:mars", "", http.StatusBadRequest},
		{"patterns", http.MethodGet, "/api/v1/patterns", "", http.StatusOK},
		{"dangerous patterns", http.MethodGet, "/api/v1/patterns/dangerous", "", http.StatusOK},
		{"drift signals", http.MethodGet, "/api/v1/drift/signals?open=true", "", http.StatusOK},
		{"missing signal", http.MethodGet, "/api/v1/drift/signals/missing", "", http.StatusNotFound},
		{"ack missing signal", http.MethodPost, "/api/v1/drift/signals/missing/acknowledge", `{"by":"ops"}`, http.StatusNotFound},
		{"unknown signal op", http.MethodPost, "/api/v1/drift/signals/missing/escalate", `{"by":"ops"}`, http.StatusNotFound},
		{"recommendations", http.MethodGet, "/api/v1/recommendations", "", http.StatusOK},
		{"recommend unknown feature", http.MethodGet, "/api/v1/recommendations/teleportation", "", http.StatusBadRequest},
		{"simulate without policy", http.MethodPost, "/api/v1/simulate", `{}`, http.StatusBadRequest},
		{"policies", http.MethodGet, "/api/v1/policies", "", http.StatusOK},
		{"disable missing policy", http.MethodPost, "/api/v1/policies/missing/disable", "", http.StatusNotFound},
		{"reload without files", http.MethodPost, "/api/v1/policies/reload", "", http.StatusConflict},
		{"jobs", http.MethodGet, "/api/v1/jobs", "", http.StatusOK},
		{"run job", http.MethodPost, "/api/v1/jobs/override_prune/run", "", http.StatusOK},
		{"run unknown job", http.MethodPost, "/api/v1/jobs/compaction/run", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/nothing", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/status", "", http.StatusMethodNotAllowed},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"ready", http.MethodGet, "/ready", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStatus_CountsDecisions(t *testing.T) {
	a := newTestAPI(t, nil)

	noop := func(context.Context) (storage.Counters, error) { return storage.Counters{}, nil }
	for i := 0; i < 3; i++ {
		_, _ = a.core.Guard(context.Background(), &decision.Request{Feature: "content_publishing", Action: "content_update"}, noop)
	}

	rec := a.do(t, http.MethodGet, "/api/v1/status", "")
	var st governance.Status
	decodeBody(t, rec, &st)
	if st.Decisions.Allow != 2 || st.Decisions.Block != 1 {
		t.Errorf("Expected 2 allowed and 1 blocked, got %+v", st.Decisions)
	}
	if st.PolicyVersion == 0 {
		t.Error("Expected a policy version")
	}
}

func TestRecommendations_WithheldExposeNoCap(t *testing.T) {
	a := newTestAPI(t, nil)

	if rec := a.do(t, http.MethodPost, "/api/v1/jobs/recommender/run", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected recommender run to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := a.do(t, http.MethodGet, "/api/v1/recommendations", "")
	var body struct {
		Recommendations []map[string]any `json:"recommendations"`
		Withheld        int              `json:"withheld"`
	}
	decodeBody(t, rec, &body)
	if len(body.Recommendations) != 0 {
		t.Errorf("Expected no surfaced recommendations without history, got %v", body.Recommendations)
	}
	if body.Withheld == 0 {
		t.Error("Expected withheld recommendations to be counted")
	}

	rec = a.do(t, http.MethodGet, "/api/v1/recommendations/translation", "")
	var one map[string]any
	decodeBody(t, rec, &one)
	if one["withheld"] != true {
		t.Errorf("Expected translation to be withheld, got %v", one["withheld"])
	}
	if _, ok := one["recommended"]; ok {
		t.Errorf("Expected no proposed cap on a withheld recommendation, got %v", one["recommended"])
	}
}

func TestUpsertPolicy(t *testing.T) {
	a := newTestAPI(t, nil)

	valid := `{"name":"Translation","target":{"type":"feature","value":"translation"},"enabled":true,"priority":100,
		"allowed_actions":["translate"],"budgets":[{"period":"daily","max_actions":5}],"approval":"review"}`
	rec := a.do(t, http.MethodPut, "/api/v1/policies/translation", valid)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var def policy.Definition
	decodeBody(t, rec, &def)
	if def.ID != "translation" || def.CreatedAt.IsZero() {
		t.Errorf("Expected stored policy with id and timestamps, got %+v", def)
	}

	invalid := `{"name":"Translation","target":{"type":"feature","value":"translation"},"enabled":true,"priority":100,
		"budgets":[],"approval":"sometimes"}`
	rec = a.do(t, http.MethodPut, "/api/v1/policies/translation", invalid)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var body ErrorBody
	decodeBody(t, rec, &body)
	if body.Error.Code != codeInvalidPolicy || len(body.Error.Fields) == 0 {
		t.Errorf("Expected field errors, got %+v", body.Error)
	}

	mismatched := `{"id":"other","name":"x","target":{"type":"global"},"budgets":[{"period":"daily"}],"approval":"auto"}`
	if rec := a.do(t, http.MethodPut, "/api/v1/policies/translation", mismatched); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for mismatched id, got %d", rec.Code)
	}
}

func TestSimulate_Throttled(t *testing.T) {
	a := newTestAPI(t, func(cfg *config.Config) {
		cfg.Simulator.MaxConcurrent = 1
		cfg.Simulator.RequestsPerMinute = 1
	})

	body := `{"policy":{"id":"publishing","name":"Publishing","target":{"type":"feature","value":"content_publishing"},
		"enabled":true,"priority":500,"allowed_actions":["content_update"],"budgets":[{"period":"daily","max_actions":50}],"approval":"auto"}}`
	if rec := a.do(t, http.MethodPost, "/api/v1/simulate", body); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := a.do(t, http.MethodPost, "/api/v1/simulate", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, func(cfg *config.Config) {
		cfg.API.RateLimit.Enabled = true
		cfg.API.RateLimit.RequestsPerSecond = 0.001
		cfg.API.RateLimit.Burst = 1
	})

	if rec := a.do(t, http.MethodGet, "/api/v1/status", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	rec := a.do(t, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != codeRateLimited {
		t.Errorf("Expected %s, got %s", codeRateLimited, code)
	}
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	l := newClientLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute}, nil)
	now := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	l.get("10.0.0.1")
	now = now.Add(2 * time.Minute)
	l.get("10.0.0.2")

	if _, ok := l.clients["10.0.0.1"]; ok {
		t.Error("Expected idle client to be evicted")
	}
	if len(l.clients) != 1 {
		t.Errorf("Expected 1 client, got %d", len(l.clients))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, func(cfg *config.Config) {
		cfg.API.RateLimit.Enabled = true
		cfg.API.RateLimit.RequestsPerSecond = 0.001
		cfg.API.RateLimit.Burst = 2
	})

	a.do(t, http.MethodGet, "/api/v1/status", "")
	a.do(t, http.MethodGet, "/metrics", "")
	a.do(t, http.MethodGet, "/api/v1/status", "")

	rec := httptest.NewRecorder()
	metrics.Handler(a.registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "governor_http_rate_limited_total 1") {
		t.Errorf("Expected one rate limited request, got:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `governor_http_requests_total{code="200",method="GET",route="/api/v1/status"} 1`) {
		t.Errorf("Expected status route in metrics, got:\n%s", rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	a := newTestAPI(t, func(cfg *config.Config) {
		cfg.API.CORS.Enabled = true
		cfg.API.CORS.AllowedOrigins = []string{"https://dashboard.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Errorf("Expected allowed origin header, got %q", got)
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("Expected panic value to stay out of the response")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	a := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "req-123" {
		t.Errorf("Expected req-123, got %q", got)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.API.ListenAddress = "127.0.0.1:0"

	srv := NewServer(&cfg.API, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}
