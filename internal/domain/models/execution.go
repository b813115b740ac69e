package models

import (
	"time"

	"github.com/longregen/toolrouter/internal/domain"
)

const DefaultExecutionTimeout = 30 * time.Second

// ToolCall names a tool on a server and carries its arguments. ServerID may
// be empty, in which case the hub picks the owning server.
type ToolCall struct {
	ServerID  string         `json:"serverId,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolExecutionContext describes who asked for an execution and how long it
// may take.
type ToolExecutionContext struct {
	MessageID      string         `json:"messageId"`
	RequestedBy    string         `json:"requestedBy,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Timeout        time.Duration  `json:"-"`
	Context        *SearchContext `json:"context,omitempty"`
}

// Budget returns the effective timeout, capped by limit when limit is set.
func (c ToolExecutionContext) Budget(limit time.Duration) time.Duration {
	t := c.Timeout
	if t <= 0 {
		t = DefaultExecutionTimeout
	}
	if limit > 0 && limit < t {
		t = limit
	}
	return t
}

// ToolExecutionResult is the outcome of a tool execution. Runtime failures
// are reported here with Success false rather than as Go errors.
type ToolExecutionResult struct {
	ToolID              string                 `json:"toolId"`
	Success             bool                   `json:"success"`
	Data                any                    `json:"data,omitempty"`
	Error               *domain.ExecutionError `json:"error,omitempty"`
	Duration            time.Duration          `json:"-"`
	DurationMs          int64                  `json:"durationMs"`
	MemoryEstimateBytes int                    `json:"memoryEstimateBytes"`
	UsedFallback        bool                   `json:"usedFallback"`
	Attempted           []string               `json:"attempted,omitempty"`
	CompletedAt         time.Time              `json:"completedAt"`
}

// Recoverable reports whether the failure may be retried on another instance.
func (r *ToolExecutionResult) Recoverable() bool {
	return !r.Success && r.Error != nil && r.Error.Recoverable
}

func NewSuccessResult(toolID string, data any, d time.Duration, size int) *ToolExecutionResult {
	return &ToolExecutionResult{
		ToolID:              toolID,
		Success:             true,
		Data:                data,
		Duration:            d,
		DurationMs:          d.Milliseconds(),
		MemoryEstimateBytes: size,
		CompletedAt:         time.Now(),
	}
}

func NewFailureResult(toolID string, err *domain.ExecutionError, d time.Duration) *ToolExecutionResult {
	return &ToolExecutionResult{
		ToolID:      toolID,
		Success:     false,
		Error:       err,
		Duration:    d,
		DurationMs:  d.Milliseconds(),
		CompletedAt: time.Now(),
	}
}
