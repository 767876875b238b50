package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCheckReadiness_NoChecks(t *testing.T) {
	rep := New(0).CheckReadiness(context.Background())
	if rep.Status != StatusReady {
		t.Errorf("Expected %q, got %q", StatusReady, rep.Status)
	}
}

func TestCheckReadiness_Degraded(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("ledger", func(context.Context) error { return nil })
	c.RegisterCheck("events", func(context.Context) error { return errors.New("database is locked") })

	rep := c.CheckReadiness(context.Background())
	if rep.Status != StatusDegraded {
		t.Errorf("Expected %q, got %q", StatusDegraded, rep.Status)
	}
	if rep.Checks["ledger"].Status != StatusOK {
		t.Errorf("Expected ledger ok, got %+v", rep.Checks["ledger"])
	}
	if got := rep.Checks["events"]; got.Status != StatusUnhealthy || got.Message != "database is locked" {
		t.Errorf("Expected events unhealthy with message, got %+v", got)
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	rep := c.CheckReadiness(context.Background())
	if got := rep.Checks["slow"]; got.Status != StatusUnhealthy || got.Message != ErrCheckTimeout.Error() {
		t.Errorf("Expected timeout result, got %+v", got)
	}
	// Let the abandoned check goroutine finish before goleak runs.
	time.Sleep(20 * time.Millisecond)
}

func TestListChecks(t *testing.T) {
	c := New(0)
	c.RegisterCheck("policies", func(context.Context) error { return nil })
	c.RegisterCheck("events", func(context.Context) error { return nil })
	c.RegisterCheck("events", func(context.Context) error { return nil })

	names := c.ListChecks()
	if len(names) != 2 || names[0] != "events" || names[1] != "policies" {
		t.Errorf("Expected [events policies], got %v", names)
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("policies", func(context.Context) error { return errors.New("no policies loaded") })

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		code    int
		status  string
	}{
		{"liveness", c.LivenessHandler(), http.MethodGet, http.StatusOK, StatusOK},
		{"readiness degraded", c.ReadinessHandler(), http.MethodGet, http.StatusServiceUnavailable, StatusDegraded},
		{"wrong method", c.LivenessHandler(), http.MethodPost, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/", nil))

			if rec.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, rec.Code)
			}
			if tt.status == "" {
				return
			}
			var rep Report
			if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
				t.Fatalf("failed to decode report: %v", err)
			}
			if rep.Status != tt.status {
				t.Errorf("Expected %q, got %q", tt.status, rep.Status)
			}
		})
	}
}
