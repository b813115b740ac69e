package ports

import (
	"context"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// ServerConfigRepository persists external tool server descriptors.
type ServerConfigRepository interface {
	Save(ctx context.Context, cfg models.ServerConfig) error
	GetByID(ctx context.Context, id string) (*models.ServerConfig, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.ServerConfig, error)
}

// PreferencesRepository persists the user's tool preferences.
type PreferencesRepository interface {
	// Load returns empty preferences when nothing was stored yet.
	Load(ctx context.Context) (*models.UserToolPreferences, error)
	Save(ctx context.Context, prefs *models.UserToolPreferences) error
}

// IDGenerator defines the interface for generating unique IDs
type IDGenerator interface {
	// GenerateServerID generates a new server ID (srv_xxx)
	GenerateServerID() string

	// GenerateMessageID generates a new execution message ID (msg_xxx)
	GenerateMessageID() string

	// GenerateRuleID generates a new conflict rule ID (rule_xxx)
	GenerateRuleID() string
}
