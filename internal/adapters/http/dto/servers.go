package dto

import "github.com/longregen/toolrouter/internal/domain/models"

// ServerResponse pairs a descriptor with its live health.
type ServerResponse struct {
	Config models.ServerConfig  `json:"config"`
	Health *models.ServerHealth `json:"health,omitempty"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}
