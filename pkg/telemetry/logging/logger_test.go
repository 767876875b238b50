package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("Expected one JSON record, got %q: %v", buf.String(), err)
	}
	return m
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %q", buf.String())
	}

	logger.Warn("kept", "feature", "translation")
	m := decode(t, &buf)
	if m["msg"] != "kept" || m["feature"] != "translation" {
		t.Errorf("Unexpected record: %v", m)
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "info", Format: "TEXT"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("hello", "component", "ledger")
	if !strings.Contains(buf.String(), "component=ledger") {
		t.Errorf("Expected text output, got %q", buf.String())
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := New(config.LoggingConfig{Format: "xml"}, nil); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(config.LoggingConfig{Format: "json"}, &buf)

	logger.Info("connecting", "redis_password", "hunter2", "addr", "redis:6379")
	m := decode(t, &buf)
	if m["redis_password"] != Redacted {
		t.Errorf("Expected password redacted, got %v", m["redis_password"])
	}
	if m["addr"] != "redis:6379" {
		t.Errorf("Expected addr kept, got %v", m["addr"])
	}
}

func TestNew_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(config.LoggingConfig{Format: "json"}, &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithFeature(ctx, "content_publishing")
	logger.With("component", "guard").InfoContext(ctx, "decided")

	m := decode(t, &buf)
	if m["request_id"] != "req-1" || m["feature"] != "content_publishing" || m["component"] != "guard" {
		t.Errorf("Expected context fields in record, got %v", m)
	}
	if _, ok := m["team"]; ok {
		t.Error("Expected empty team to be omitted")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := WithTeam(context.Background(), "editorial")
	if Team(ctx) != "editorial" {
		t.Errorf("Expected editorial, got %q", Team(ctx))
	}
	if RequestID(ctx) != "" {
		t.Errorf("Expected empty request id, got %q", RequestID(ctx))
	}
}
