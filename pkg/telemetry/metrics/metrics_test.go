package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_Begin(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)

	done := m.Begin()
	if v := testutil.ToFloat64(m.inFlight); v != 1 {
		t.Errorf("Expected 1 in flight, got %v", v)
	}
	done("/v1/evaluate", http.MethodPost, http.StatusOK)

	if v := testutil.ToFloat64(m.inFlight); v != 0 {
		t.Errorf("Expected 0 in flight, got %v", v)
	}
	if v := testutil.ToFloat64(m.requests.WithLabelValues("/v1/evaluate", "POST", "200")); v != 1 {
		t.Errorf("Expected 1 request, got %v", v)
	}

	m.Begin()("", http.MethodGet, http.StatusNotFound)
	if v := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "GET", "404")); v != 1 {
		t.Errorf("Expected unmatched route label, got %v", v)
	}
}

func TestHTTPMetrics_NilSafe(t *testing.T) {
	var m *HTTPMetrics
	m.Begin()("/x", "GET", 200)
	m.RateLimited()
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)
	m.RateLimited()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "governor_http_rate_limited_total 1") {
		t.Errorf("Expected rate limit counter in output, got:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("Expected Go runtime metrics in output")
	}
}
