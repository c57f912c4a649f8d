package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/tollgate/pkg/faults"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		err  *ConfigError
		want string
	}{
		{err: NewConfigError("server.listen_address", "missing required field"), want: "config error in server.listen_address: missing required field"},
		{err: NewConfigError("", "failed to load"), want: "config error: failed to load"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestCommandError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := NewCommandError("run", underlying)

	if got := err.Error(); got != "command run failed: underlying error" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, underlying) {
		t.Error("CommandError does not unwrap to the underlying error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "config", err: NewConfigError("x", "bad"), want: ExitInvalid},
		{name: "validation", err: faults.Invalid("limit", "must be positive"), want: ExitInvalid},
		{name: "wrapped not found", err: NewCommandError("budget status", faults.NotFound("budget", "b1")), want: ExitNotFound},
		{name: "unavailable", err: faults.Unavailable("catalog", errors.New("down")), want: ExitUnavailable},
		{name: "other", err: fmt.Errorf("boom"), want: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
