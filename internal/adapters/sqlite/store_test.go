package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "toolrouter.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func fsServer(id string, created time.Time) models.ServerConfig {
	return models.ServerConfig{
		ID:   id,
		Name: "filesystem",
		Transport: models.TransportConfig{
			Type:    models.TransportStdio,
			Command: "mcp-fs",
			Args:    []string{"--root", "/tmp"},
			Env:     map[string]string{"DEBUG": "1"},
		},
		Security: models.SecurityConfig{
			Sandboxed:        true,
			AllowedPaths:     []string{"/tmp"},
			MaxExecutionTime: 10 * time.Second,
		},
		RetryDelay: 2 * time.Second,
		MaxRetries: 3,
		CreatedAt:  created,
	}
}

func TestServerConfigRepository_RoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	repo := s.Servers()
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, fsServer("srv_1", created)))

	got, err := repo.GetByID(ctx, "srv_1")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", got.Name)
	assert.Equal(t, []string{"--root", "/tmp"}, got.Transport.Args)
	assert.Equal(t, "1", got.Transport.Env["DEBUG"])
	assert.Equal(t, 10*time.Second, got.Security.MaxExecutionTime)
	assert.Equal(t, 2*time.Second, got.RetryDelay)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestServerConfigRepository_UpsertListDelete(t *testing.T) {
	s, _ := openTestStore(t)
	repo := s.Servers()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, fsServer("srv_b", base.Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, fsServer("srv_a", base)))

	updated := fsServer("srv_b", base.Add(time.Hour))
	updated.Name = "renamed"
	require.NoError(t, repo.Save(ctx, updated))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "srv_a", list[0].ID)
	assert.Equal(t, "renamed", list[1].Name)

	require.NoError(t, repo.Delete(ctx, "srv_a"))
	assert.ErrorIs(t, repo.Delete(ctx, "srv_a"), domain.ErrNotFound)
	_, err = repo.GetByID(ctx, "srv_a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServerConfigRepository_RejectsEmptyID(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.Servers().Save(context.Background(), models.ServerConfig{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestServerConfigRepository_ListSkipsCorruptRows(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Servers().Save(ctx, fsServer("srv_ok", time.Now())))
	_, err := s.db.Exec(`INSERT INTO server_configs (id, name, config, created_at, updated_at) VALUES ('srv_bad', 'bad', '{', 0, 0)`)
	require.NoError(t, err)

	list, err := s.Servers().List(ctx)
	assert.Error(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "srv_ok", list[0].ID)
}

func TestPreferencesRepository(t *testing.T) {
	s, path := openTestStore(t)
	repo := s.Preferences()
	ctx := context.Background()

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty.ToolWeights)
	assert.Empty(t, empty.ConflictRules)

	prefs := models.NewUserToolPreferences()
	prefs.ToolWeights["fs:search_files"] = 0.5
	prefs.Categories["network"] = models.CategoryPreference{Visible: false, Priority: 2}
	prefs.ConflictRules = []models.ConflictRule{{ID: "rule_1", Pattern: "search_*", Strategy: models.StrategyPreferBuiltin}}
	require.NoError(t, repo.Save(ctx, prefs))
	require.NoError(t, s.Close())

	// survives a reopen
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Preferences().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, loaded.ToolWeights["fs:search_files"])
	assert.False(t, loaded.CategoryVisible("network"))
	require.Len(t, loaded.ConflictRules, 1)
	assert.Equal(t, "search_*", loaded.ConflictRules[0].Pattern)
}
