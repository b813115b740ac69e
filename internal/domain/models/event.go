package models

import "time"

type EventType string

const (
	EventToolsUpdated         EventType = "tools:updated"
	EventExecutionCompleted   EventType = "execution:completed"
	EventExecutionFailed      EventType = "execution:failed"
	EventConflictDetected     EventType = "conflict:detected"
	EventConflictResolved     EventType = "conflict:resolved"
	EventFallbackTriggered    EventType = "fallback:triggered"
	EventServerStatus         EventType = "server:status"
	EventServerUnhealthy      EventType = "server:unhealthy"
	EventServerRecovered      EventType = "server:recovered"
	EventPerformanceThreshold EventType = "performance:threshold"
)

// Event is a lifecycle notification published by the hub and the router.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ServerID  string    `json:"serverId,omitempty"`
	ToolID    string    `json:"toolId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}

// ServerStatusChange is the payload of server status events.
type ServerStatusChange struct {
	From  ServerStatus `json:"from"`
	To    ServerStatus `json:"to"`
	Error string       `json:"error,omitempty"`
}

// FallbackInfo is the payload of fallback events.
type FallbackInfo struct {
	PrimaryToolID  string `json:"primaryToolId"`
	FallbackToolID string `json:"fallbackToolId"`
	Reason         string `json:"reason"`
}

// ThresholdBreach is the payload of performance threshold events.
type ThresholdBreach struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// CatalogUpdate is the payload of tools:updated events.
type CatalogUpdate struct {
	ToolCount     int    `json:"toolCount"`
	ConflictCount int    `json:"conflictCount"`
	Fingerprint   string `json:"fingerprint"`
}
