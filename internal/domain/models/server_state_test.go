package models

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateServerTransition(t *testing.T) {
	tests := []struct {
		name        string
		from        ServerStatus
		to          ServerStatus
		shouldError bool
	}{
		// Normal connection path
		{name: "disconnected to connecting", from: ServerStatusDisconnected, to: ServerStatusConnecting},
		{name: "connecting to connected", from: ServerStatusConnecting, to: ServerStatusConnected},
		{name: "connecting to error", from: ServerStatusConnecting, to: ServerStatusError},

		// Failures and retries
		{name: "connected to error", from: ServerStatusConnected, to: ServerStatusError},
		{name: "error to connecting", from: ServerStatusError, to: ServerStatusConnecting},

		// Explicit disconnect from anywhere
		{name: "connected to disconnected", from: ServerStatusConnected, to: ServerStatusDisconnected},
		{name: "error to disconnected", from: ServerStatusError, to: ServerStatusDisconnected},
		{name: "connecting to disconnected", from: ServerStatusConnecting, to: ServerStatusDisconnected},

		// Skipping connecting is refused
		{name: "disconnected to connected", from: ServerStatusDisconnected, to: ServerStatusConnected, shouldError: true},
		{name: "error to connected", from: ServerStatusError, to: ServerStatusConnected, shouldError: true},
		{name: "disconnected to error", from: ServerStatusDisconnected, to: ServerStatusError, shouldError: true},

		// No-op
		{name: "connected to connected", from: ServerStatusConnected, to: ServerStatusConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerTransition(tt.from, tt.to)
			if tt.shouldError && err == nil {
				t.Errorf("expected error for %s -> %s", tt.from, tt.to)
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error for %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestInvalidServerTransitionError_Message(t *testing.T) {
	err := ValidateServerTransition(ServerStatusError, ServerStatusConnected)

	var transitionErr *InvalidServerTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidServerTransitionError, got %T", err)
	}
	if !strings.Contains(err.Error(), "without connecting first") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
