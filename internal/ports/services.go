package ports

import (
	"context"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// BuiltinToolSource exposes in-process tools with a direct invoker.
type BuiltinToolSource interface {
	ListTools() []models.UnifiedTool
	ExecuteBuiltin(ctx context.Context, name string, args map[string]any) (any, error)
}

// ContextProvider supplies what the user is currently working on.
type ContextProvider interface {
	CurrentContext(ctx context.Context) models.SearchContext
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(event models.Event)
}

// ToolHub is the external tool server hub as seen by the router.
type ToolHub interface {
	// ServerTools returns the cached tools of every connected server.
	ServerTools() []models.UnifiedTool
	ExecuteToolCall(ctx context.Context, call models.ToolCall, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error)
	GetHealthReport() models.HealthReport
	// SetConflictResolutions hands the hub the router's latest decisions so
	// calls by bare name reach the selected server.
	SetConflictResolutions(conflicts []models.ToolConflict)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(models.Event)

func (f EventSinkFunc) Publish(event models.Event) { f(event) }

// NopEventSink discards events.
type NopEventSink struct{}

func (NopEventSink) Publish(models.Event) {}
