package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		err  *ConfigError
		want string
	}{
		{NewConfigError("api.listen_address", "missing required field"), "config error in api.listen_address: missing required field"},
		{NewConfigError("", "file not found"), "config error: file not found"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestCommandError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := NewCommandError("simulate", underlying)

	if want := "command simulate failed: underlying error"; err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("Expected errors.Is to see the wrapped error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"config", NewConfigError("ledger.backend", "unsupported"), ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("", "bad yaml")), ExitConfig},
		{"command", NewCommandError("run", errors.New("boom")), ExitFailure},
		{"command with code", &CommandError{Command: "evaluate", Err: errors.New("blocked"), Code: ExitBlocked}, ExitBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}
