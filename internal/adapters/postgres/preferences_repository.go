package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// PreferencesRepository stores the single preferences document as JSONB.
type PreferencesRepository struct {
	repository
}

func NewPreferencesRepository(pool *pgxpool.Pool) *PreferencesRepository {
	return &PreferencesRepository{repository{pool: pool}}
}

func (r *PreferencesRepository) Load(ctx context.Context) (*models.UserToolPreferences, error) {
	ctx, conn, cancel := r.acquire(ctx)
	defer cancel()

	var data []byte
	err := conn.QueryRow(ctx, `SELECT data FROM toolrouter_preferences WHERE id = 1`).Scan(&data)
	if isNoRows(err) {
		return models.NewUserToolPreferences(), nil
	}
	if err != nil {
		return nil, err
	}

	prefs := models.NewUserToolPreferences()
	if err := decodeDocument(data, prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs.Clone(), nil
}

func (r *PreferencesRepository) Save(ctx context.Context, prefs *models.UserToolPreferences) error {
	ctx, conn, cancel := r.acquire(ctx)
	defer cancel()

	data, err := json.Marshal(prefs.Clone())
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	query := `
		INSERT INTO toolrouter_preferences (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	if _, err := conn.Exec(ctx, query, data, time.Now()); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
