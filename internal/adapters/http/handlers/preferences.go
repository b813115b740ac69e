package handlers

import (
	"net/http"

	"github.com/longregen/toolrouter/internal/adapters/http/dto"
	"github.com/longregen/toolrouter/internal/domain/models"
)

type PreferencesHandler struct {
	router ToolRouter
}

func NewPreferencesHandler(router ToolRouter) *PreferencesHandler {
	return &PreferencesHandler{router: router}
}

// Get handles GET /api/v1/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	respond(w, r, h.router.Preferences(), http.StatusOK)
}

func (h *PreferencesHandler) weight(tool string) dto.WeightResponse {
	w, ok := h.router.Preferences().ToolWeights[tool]
	if !ok {
		w = 1
	}
	return dto.WeightResponse{Tool: tool, Weight: w, Overridden: ok}
}

// GetWeight handles GET /api/v1/preferences/weights/{id}
func (h *PreferencesHandler) GetWeight(w http.ResponseWriter, r *http.Request) {
	tool, ok := validateURLParam(r, w, "id", "Tool")
	if !ok {
		return
	}
	respond(w, r, h.weight(tool), http.StatusOK)
}

// PutWeight handles PUT /api/v1/preferences/weights/{id}. A null weight
// removes the override.
func (h *PreferencesHandler) PutWeight(w http.ResponseWriter, r *http.Request) {
	tool, ok := validateURLParam(r, w, "id", "Tool")
	if !ok {
		return
	}
	req, ok := decodeBody[dto.WeightRequest](r, w)
	if !ok {
		return
	}

	var err error
	if req.Weight == nil {
		err = h.router.ClearToolWeight(r.Context(), tool)
	} else {
		err = h.router.SetToolWeight(r.Context(), tool, *req.Weight)
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, h.weight(tool), http.StatusOK)
}

// AddRule handles POST /api/v1/preferences/rules
func (h *PreferencesHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[models.ConflictRule](r, w)
	if !ok {
		return
	}
	rule, err := h.router.AddConflictRule(r.Context(), *req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, rule, http.StatusCreated)
}

// RemoveRule handles DELETE /api/v1/preferences/rules/{id}
func (h *PreferencesHandler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Rule ID")
	if !ok {
		return
	}
	if err := h.router.RemoveConflictRule(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
