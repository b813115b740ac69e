package models

import (
	"fmt"
	"time"
)

type ServerStatus string

const (
	ServerStatusDisconnected ServerStatus = "disconnected"
	ServerStatusConnecting   ServerStatus = "connecting"
	ServerStatusConnected    ServerStatus = "connected"
	ServerStatusError        ServerStatus = "error"
)

// ServerTransition represents a health state transition
type ServerTransition struct {
	From ServerStatus
	To   ServerStatus
}

// serverTransitions defines the allowed health transitions. Connected is only
// reachable through connecting.
var serverTransitions = map[ServerTransition]bool{
	{ServerStatusDisconnected, ServerStatusConnecting}: true,

	{ServerStatusConnecting, ServerStatusConnected}:    true,
	{ServerStatusConnecting, ServerStatusError}:        true,
	{ServerStatusConnecting, ServerStatusDisconnected}: true,

	{ServerStatusConnected, ServerStatusError}:        true,
	{ServerStatusConnected, ServerStatusDisconnected}: true,

	{ServerStatusError, ServerStatusConnecting}:   true,
	{ServerStatusError, ServerStatusDisconnected}: true,
}

// ValidateServerTransition returns an error when from -> to is not allowed.
func ValidateServerTransition(from, to ServerStatus) error {
	if from == to {
		return nil
	}
	if !serverTransitions[ServerTransition{From: from, To: to}] {
		return &InvalidServerTransitionError{From: from, To: to}
	}
	return nil
}

func IsValidServerTransition(from, to ServerStatus) bool {
	return ValidateServerTransition(from, to) == nil
}

type InvalidServerTransitionError struct {
	From ServerStatus
	To   ServerStatus
}

func (e *InvalidServerTransitionError) Error() string {
	if e.To == ServerStatusConnected {
		return fmt.Sprintf("cannot transition from '%s' to connected without connecting first", e.From)
	}
	return fmt.Sprintf("invalid server state transition from '%s' to '%s'", e.From, e.To)
}

// ServerHealth is the observed condition of one server connection.
type ServerHealth struct {
	ServerID            string         `json:"serverId"`
	Status              ServerStatus   `json:"status"`
	LastError           string         `json:"lastError,omitempty"`
	AverageLatencyMs    float64        `json:"averageLatencyMs"`
	ErrorRate           float64        `json:"errorRate"`
	ToolCount           int            `json:"toolCount"`
	Capabilities        map[string]any `json:"capabilities,omitempty"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	LastCheck           time.Time      `json:"lastCheck"`
	LastConnected       *time.Time     `json:"lastConnected,omitempty"`
}

// Healthy reports whether the server is connected and accepting calls.
func (h ServerHealth) Healthy() bool {
	return h.Status == ServerStatusConnected
}

// HealthReport aggregates health across all configured servers.
type HealthReport struct {
	Servers           []ServerHealth `json:"servers"`
	TotalServers      int            `json:"totalServers"`
	ConnectedServers  int            `json:"connectedServers"`
	BuiltinTools      int            `json:"builtinTools"`
	ExternalTools     int            `json:"externalTools"`
	UnresolvedCount   int            `json:"unresolvedConflicts"`
	PendingRequests   int            `json:"pendingRequests"`
	GeneratedAt       time.Time      `json:"generatedAt"`
	Healthy           bool           `json:"healthy"`
	DegradedServerIDs []string       `json:"degradedServers,omitempty"`
}
