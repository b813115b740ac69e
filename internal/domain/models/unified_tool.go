package models

import (
	"strings"
	"time"
)

// SourceBuiltin is the provenance of in-process tools.
const SourceBuiltin = "builtin"

type SourceType string

const (
	SourceTypeBuiltin  SourceType = "builtin"
	SourceTypeExternal SourceType = "external"
)

type LatencyClass string

const (
	LatencyInstant LatencyClass = "instant"
	LatencyFast    LatencyClass = "fast"
	LatencySlow    LatencyClass = "slow"
)

// ToolUsageStats tracks how a tool instance has performed.
type ToolUsageStats struct {
	UsageCount         int        `json:"usageCount"`
	AverageExecutionMs float64    `json:"averageExecutionMs"`
	SuccessRate        float64    `json:"successRate"`
	LastUsed           *time.Time `json:"lastUsed,omitempty"`
}

// usageAlpha weights the newest sample in the rolling success rate.
const usageAlpha = 0.2

// Record folds one execution outcome into the statistics.
func (s *ToolUsageStats) Record(d time.Duration, success bool, at time.Time) {
	ms := float64(d.Microseconds()) / 1000.0
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	if s.UsageCount == 0 {
		s.AverageExecutionMs = ms
		s.SuccessRate = outcome
	} else {
		n := float64(s.UsageCount)
		s.AverageExecutionMs = (s.AverageExecutionMs*n + ms) / (n + 1)
		s.SuccessRate = usageAlpha*outcome + (1-usageAlpha)*s.SuccessRate
	}
	s.UsageCount++
	s.LastUsed = &at
}

// UnifiedTool is one tool instance from one source.
type UnifiedTool struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	Category     string         `json:"category"`
	Tags         []string       `json:"tags,omitempty"`
	Source       string         `json:"source"`
	SourceType   SourceType     `json:"sourceType"`
	Reliability  float64        `json:"reliability"`
	LatencyClass LatencyClass   `json:"latencyClass"`
	Usage        ToolUsageStats `json:"usage"`
}

// ToolID builds the catalog id of a tool instance.
func ToolID(source, name string) string {
	return source + ":" + name
}

// SplitToolID separates a catalog id into source and name. ok is false when
// id carries no source prefix.
func SplitToolID(id string) (source, name string, ok bool) {
	source, name, ok = strings.Cut(id, ":")
	if !ok || source == "" || name == "" {
		return "", id, false
	}
	return source, name, true
}

func (t *UnifiedTool) IsBuiltin() bool {
	return t.SourceType == SourceTypeBuiltin
}

// Clone returns a copy that shares no mutable slices with t.
func (t UnifiedTool) Clone() UnifiedTool {
	t.Tags = append([]string(nil), t.Tags...)
	if t.Usage.LastUsed != nil {
		at := *t.Usage.LastUsed
		t.Usage.LastUsed = &at
	}
	return t
}

type ConflictStrategy string

const (
	StrategyPreferBuiltin    ConflictStrategy = "prefer-builtin"
	StrategyPreferExternal   ConflictStrategy = "prefer-external"
	StrategyPerformanceBased ConflictStrategy = "performance-based"
	StrategyUserChoice       ConflictStrategy = "user-choice"
)

func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyPreferBuiltin, StrategyPreferExternal, StrategyPerformanceBased, StrategyUserChoice:
		return true
	}
	return false
}

// ConflictRule is a user supplied resolution for tools matching Pattern.
// Pattern is compared against normalized names; a trailing '*' matches any
// suffix. PreferredSource, when set, wins outright if it is in the group.
type ConflictRule struct {
	ID              string           `json:"id"`
	Pattern         string           `json:"pattern"`
	Strategy        ConflictStrategy `json:"strategy,omitempty"`
	PreferredSource string           `json:"preferredSource,omitempty"`
}

// ToolConflict records two or more sources exposing the same normalized name.
type ToolConflict struct {
	Name           string           `json:"name"`
	ToolIDs        []string         `json:"toolIds"`
	Sources        []string         `json:"sources"`
	Strategy       ConflictStrategy `json:"strategy"`
	SelectedSource string           `json:"selectedSource"`
	SelectedToolID string           `json:"selectedToolId"`
	RuleID         string           `json:"ruleId,omitempty"`
	AwaitingUser   bool             `json:"awaitingUser,omitempty"`
	DetectedAt     time.Time        `json:"detectedAt"`
}
