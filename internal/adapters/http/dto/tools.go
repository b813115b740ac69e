package dto

import "github.com/longregen/toolrouter/internal/domain/models"

type SearchResponse struct {
	Query   string                `json:"query"`
	Results []models.SearchResult `json:"results"`
	Total   int                   `json:"total"`
}

type ExecuteRequest struct {
	Params         map[string]any        `json:"params"`
	MessageID      string                `json:"messageId,omitempty"`
	ConversationID string                `json:"conversationId,omitempty"`
	RequestedBy    string                `json:"requestedBy,omitempty"`
	TimeoutMs      int64                 `json:"timeoutMs,omitempty"`
	Context        *models.SearchContext `json:"context,omitempty"`
}

type RefreshResponse struct {
	Changed     bool   `json:"changed"`
	ToolCount   int    `json:"toolCount"`
	Fingerprint string `json:"fingerprint"`
}

type AbortResponse struct {
	Aborted bool `json:"aborted"`
}

type CategoryToolsResponse struct {
	Category string               `json:"category"`
	Tools    []models.UnifiedTool `json:"tools"`
}
