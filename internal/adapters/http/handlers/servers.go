package handlers

import (
	"io"
	"net/http"

	"github.com/longregen/toolrouter/internal/adapters/http/dto"
	"github.com/longregen/toolrouter/internal/domain/models"
)

type ServersHandler struct {
	hub ServerHub
}

func NewServersHandler(hub ServerHub) *ServersHandler {
	return &ServersHandler{hub: hub}
}

func (h *ServersHandler) withHealth(cfg models.ServerConfig) dto.ServerResponse {
	resp := dto.ServerResponse{Config: cfg}
	if health, ok := h.hub.Health(cfg.ID); ok {
		resp.Health = &health
	}
	return resp
}

// List handles GET /api/v1/servers
func (h *ServersHandler) List(w http.ResponseWriter, r *http.Request) {
	servers := h.hub.ListServers()
	out := make([]dto.ServerResponse, 0, len(servers))
	for _, cfg := range servers {
		out = append(out, h.withHealth(cfg))
	}
	respond(w, r, out, http.StatusOK)
}

// Add handles POST /api/v1/servers. The id may be left empty.
func (h *ServersHandler) Add(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeBody[models.ServerConfig](r, w)
	if !ok {
		return
	}
	added, err := h.hub.AddServer(r.Context(), *cfg)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, h.withHealth(added), http.StatusCreated)
}

// Remove handles DELETE /api/v1/servers/{id}
func (h *ServersHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}
	if err := h.hub.RemoveServer(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connect handles POST /api/v1/servers/{id}/connect
func (h *ServersHandler) Connect(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}
	if err := h.hub.ConnectServer(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	h.respondServer(w, r, id)
}

// Disconnect handles POST /api/v1/servers/{id}/disconnect
func (h *ServersHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}
	if err := h.hub.DisconnectServer(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	h.respondServer(w, r, id)
}

func (h *ServersHandler) respondServer(w http.ResponseWriter, r *http.Request, id string) {
	cfg, err := h.hub.GetServer(id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, h.withHealth(cfg), http.StatusOK)
}

// Import handles POST /api/v1/servers/import with a JSON array body
func (h *ServersHandler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	n, err := h.hub.ImportServers(r.Context(), data)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, dto.ImportResponse{Imported: n}, http.StatusOK)
}

// Export handles GET /api/v1/servers/export
func (h *ServersHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.hub.ExportServers()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="toolrouter-servers.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
