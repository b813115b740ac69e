package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

// ServerConfigStore keeps server descriptors in process memory.
type ServerConfigStore struct {
	mu      sync.RWMutex
	servers map[string]models.ServerConfig
}

func NewServerConfigStore() *ServerConfigStore {
	return &ServerConfigStore{servers: make(map[string]models.ServerConfig)}
}

func (s *ServerConfigStore) Save(_ context.Context, cfg models.ServerConfig) error {
	if cfg.ID == "" {
		return domain.NewConfigError("id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[cfg.ID] = cfg
	return nil
}

func (s *ServerConfigStore) GetByID(_ context.Context, id string) (*models.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("server config %s: %w", id, domain.ErrNotFound)
	}
	return &cfg, nil
}

func (s *ServerConfigStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[id]; !ok {
		return fmt.Errorf("server config %s: %w", id, domain.ErrNotFound)
	}
	delete(s.servers, id)
	return nil
}

// List returns every descriptor ordered by creation time, then id.
func (s *ServerConfigStore) List(_ context.Context) ([]models.ServerConfig, error) {
	s.mu.RLock()
	out := make([]models.ServerConfig, 0, len(s.servers))
	for _, cfg := range s.servers {
		out = append(out, cfg)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.ServerConfig) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// PreferencesStore keeps a single preferences document in memory.
type PreferencesStore struct {
	mu    sync.RWMutex
	prefs *models.UserToolPreferences
}

func NewPreferencesStore() *PreferencesStore {
	return &PreferencesStore{}
}

func (s *PreferencesStore) Load(_ context.Context) (*models.UserToolPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.Clone(), nil
}

func (s *PreferencesStore) Save(_ context.Context, prefs *models.UserToolPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = prefs.Clone()
	return nil
}
