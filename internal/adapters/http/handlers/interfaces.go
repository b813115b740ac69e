package handlers

import (
	"context"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// ToolRouter is the router surface the API exposes.
type ToolRouter interface {
	SearchTools(ctx context.Context, query string, sc *models.SearchContext, opts models.SearchOptions) ([]models.SearchResult, error)
	ExecuteTool(ctx context.Context, toolRef string, params map[string]any, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error)
	GetToolPreview(toolRef string) (*models.ToolPreview, error)
	GetAvailableCategories() []models.CategorySummary
	GetToolsByCategory(category string) []models.UnifiedTool
	RefreshToolCatalog(ctx context.Context) (bool, error)
	Tools() []models.UnifiedTool
	Fingerprint() string
	GetHealthReport() models.HealthReport
	AbortExecution(toolRef, messageID string) bool
	Preferences() *models.UserToolPreferences
	SetToolWeight(ctx context.Context, tool string, weight float64) error
	ClearToolWeight(ctx context.Context, tool string) error
	AddConflictRule(ctx context.Context, rule models.ConflictRule) (models.ConflictRule, error)
	RemoveConflictRule(ctx context.Context, id string) error
}

// ServerHub manages external tool server registrations.
type ServerHub interface {
	ListServers() []models.ServerConfig
	GetServer(id string) (models.ServerConfig, error)
	Health(id string) (models.ServerHealth, bool)
	AddServer(ctx context.Context, cfg models.ServerConfig) (models.ServerConfig, error)
	RemoveServer(ctx context.Context, id string) error
	ConnectServer(ctx context.Context, id string) error
	DisconnectServer(ctx context.Context, id string) error
	ImportServers(ctx context.Context, data []byte) (int, error)
	ExportServers() ([]byte, error)
}

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe(types ...models.EventType) <-chan models.Event
	Unsubscribe(ch <-chan models.Event)
}
