package handlers

import (
	"net/http"
	"time"

	"github.com/longregen/toolrouter/internal/adapters/http/dto"
	"github.com/longregen/toolrouter/internal/domain/models"
)

type ToolsHandler struct {
	router ToolRouter
}

func NewToolsHandler(router ToolRouter) *ToolsHandler {
	return &ToolsHandler{router: router}
}

// Search handles GET /api/v1/tools/search
func (h *ToolsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")

	var sc *models.SearchContext
	candidate := &models.SearchContext{
		ProjectType:    q.Get("project"),
		SubjectMode:    q.Get("subject"),
		OpenFileType:   q.Get("file"),
		RecentKeywords: parseListQuery(r, "keywords"),
	}
	if !candidate.IsZero() {
		sc = candidate
	}

	opts := models.SearchOptions{
		MaxResults:          parseIntQuery(r, "max", models.DefaultMaxResults),
		Category:            q.Get("category"),
		Source:              q.Get("source"),
		IncludeAlternatives: q.Get("alternatives") == "true",
	}

	results, err := h.router.SearchTools(r.Context(), query, sc, opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	respond(w, r, dto.SearchResponse{Query: query, Results: results, Total: len(results)}, http.StatusOK)
}

// Execute handles POST /api/v1/tools/{id}/execute. Failed executions are
// still 200 responses carrying the failure in the result.
func (h *ToolsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	toolRef, ok := validateURLParam(r, w, "id", "Tool ID")
	if !ok {
		return
	}
	req, ok := decodeBody[dto.ExecuteRequest](r, w)
	if !ok {
		return
	}

	execCtx := models.ToolExecutionContext{
		MessageID:      req.MessageID,
		ConversationID: req.ConversationID,
		RequestedBy:    req.RequestedBy,
		Timeout:        time.Duration(req.TimeoutMs) * time.Millisecond,
		Context:        req.Context,
	}
	result, err := h.router.ExecuteTool(r.Context(), toolRef, req.Params, execCtx)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, result, http.StatusOK)
}

// Preview handles GET /api/v1/tools/{id}/preview
func (h *ToolsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	toolRef, ok := validateURLParam(r, w, "id", "Tool ID")
	if !ok {
		return
	}
	preview, err := h.router.GetToolPreview(toolRef)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, preview, http.StatusOK)
}

// Refresh handles POST /api/v1/tools/refresh
func (h *ToolsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	changed, err := h.router.RefreshToolCatalog(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, dto.RefreshResponse{
		Changed:     changed,
		ToolCount:   len(h.router.Tools()),
		Fingerprint: h.router.Fingerprint(),
	}, http.StatusOK)
}

// Categories handles GET /api/v1/categories
func (h *ToolsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	respond(w, r, h.router.GetAvailableCategories(), http.StatusOK)
}

// CategoryTools handles GET /api/v1/categories/{category}/tools
func (h *ToolsHandler) CategoryTools(w http.ResponseWriter, r *http.Request) {
	category, ok := validateURLParam(r, w, "category", "Category")
	if !ok {
		return
	}
	tools := h.router.GetToolsByCategory(category)
	if tools == nil {
		tools = []models.UnifiedTool{}
	}
	respond(w, r, dto.CategoryToolsResponse{Category: category, Tools: tools}, http.StatusOK)
}

// Abort handles POST /api/v1/executions/{messageID}/abort?tool=
func (h *ToolsHandler) Abort(w http.ResponseWriter, r *http.Request) {
	messageID, ok := validateURLParam(r, w, "messageID", "Message ID")
	if !ok {
		return
	}
	toolRef := r.URL.Query().Get("tool")
	if toolRef == "" {
		respondError(w, r, "invalid_request", "tool query parameter is required", http.StatusBadRequest)
		return
	}
	aborted := h.router.AbortExecution(toolRef, messageID)
	status := http.StatusOK
	if !aborted {
		status = http.StatusNotFound
	}
	respond(w, r, dto.AbortResponse{Aborted: aborted}, status)
}
