package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

// Store is a single-file SQLite database holding server descriptors and
// user preferences.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its parent directory when missing.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; WAL lets readers through
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS server_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			config TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_server_configs_created ON server_configs(created_at);

		CREATE TABLE IF NOT EXISTS preferences (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Servers returns the server descriptor repository backed by this store.
func (s *Store) Servers() *ServerConfigRepository {
	return &ServerConfigRepository{db: s.db}
}

// Preferences returns the preferences repository backed by this store.
func (s *Store) Preferences() *PreferencesRepository {
	return &PreferencesRepository{db: s.db}
}

type ServerConfigRepository struct {
	db *sql.DB
}

func (r *ServerConfigRepository) Save(ctx context.Context, cfg models.ServerConfig) error {
	if cfg.ID == "" {
		return domain.NewConfigError("id", "must not be empty")
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode server config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO server_configs (id, name, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, string(data), cfg.CreatedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save server config %s: %w", cfg.ID, err)
	}
	return nil
}

func (r *ServerConfigRepository) GetByID(ctx context.Context, id string) (*models.ServerConfig, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT config FROM server_configs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server config %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var cfg models.ServerConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("decode server config %s: %w", id, err)
	}
	return &cfg, nil
}

func (r *ServerConfigRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM server_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server config %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("server config %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// List returns every descriptor in creation order. Rows that no longer
// decode are skipped with an error joined to the result.
func (r *ServerConfigRepository) List(ctx context.Context) ([]models.ServerConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, config FROM server_configs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []models.ServerConfig
		errs []error
	)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var cfg models.ServerConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			errs = append(errs, fmt.Errorf("decode server config %s: %w", id, err))
			continue
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, errors.Join(errs...)
}

type PreferencesRepository struct {
	db *sql.DB
}

func (r *PreferencesRepository) Load(ctx context.Context) (*models.UserToolPreferences, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM preferences WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewUserToolPreferences(), nil
	}
	if err != nil {
		return nil, err
	}

	prefs := models.NewUserToolPreferences()
	if err := json.Unmarshal([]byte(data), prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs.Clone(), nil
}

func (r *PreferencesRepository) Save(ctx context.Context, prefs *models.UserToolPreferences) error {
	data, err := json.Marshal(prefs.Clone())
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO preferences (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
