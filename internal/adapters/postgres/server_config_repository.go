package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

type ServerConfigRepository struct {
	repository
}

func NewServerConfigRepository(pool *pgxpool.Pool) *ServerConfigRepository {
	return &ServerConfigRepository{repository{pool: pool}}
}

// Save inserts or replaces a descriptor. Saving a previously deleted id
// restores it.
func (r *ServerConfigRepository) Save(ctx context.Context, cfg models.ServerConfig) error {
	if cfg.ID == "" {
		return domain.NewConfigError("id", "must not be empty")
	}
	ctx, conn, cancel := r.acquire(ctx)
	defer cancel()

	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode server config: %w", err)
	}

	query := `
		INSERT INTO toolrouter_servers (
			id, name, description, transport_type, config, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			transport_type = EXCLUDED.transport_type,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL`

	_, err = conn.Exec(ctx, query,
		cfg.ID,
		cfg.Name,
		optionalText(cfg.Description),
		string(cfg.Transport.Type),
		data,
		cfg.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save server config %s: %w", cfg.ID, err)
	}
	return nil
}

func (r *ServerConfigRepository) GetByID(ctx context.Context, id string) (*models.ServerConfig, error) {
	ctx, conn, cancel := r.acquire(ctx)
	defer cancel()

	query := `
		SELECT id, config
		FROM toolrouter_servers
		WHERE id = $1 AND deleted_at IS NULL`

	cfg, err := r.scanServerConfig(conn.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("server config %s: %w", id, domain.ErrNotFound)
	}
	return cfg, err
}

// Delete performs a soft delete by setting deleted_at timestamp
func (r *ServerConfigRepository) Delete(ctx context.Context, id string) error {
	ctx, conn, cancel := r.acquire(ctx)
	defer cancel()

	query := `UPDATE toolrouter_servers SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`

	tag, err := conn.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("delete server config %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("server config %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// List returns all non-deleted descriptors in creation order
func (r *ServerConfigRepository) List(ctx context.Context) ([]models.ServerConfig, error) {
	ctx, conn, cancel := r.acquire(ctx)
	defer cancel()

	query := `
		SELECT id, config
		FROM toolrouter_servers
		WHERE deleted_at IS NULL
		ORDER BY created_at, id`

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []models.ServerConfig
	for rows.Next() {
		cfg, err := r.scanServerConfig(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *cfg)
	}
	return servers, rows.Err()
}

func (r *ServerConfigRepository) scanServerConfig(row pgx.Row) (*models.ServerConfig, error) {
	var id string
	var data []byte
	if err := row.Scan(&id, &data); err != nil {
		return nil, err
	}

	var cfg models.ServerConfig
	if err := decodeDocument(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode server config %s: %w", id, err)
	}
	// the column is authoritative over the blob
	cfg.ID = id
	return &cfg, nil
}
