package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// statementTimeout bounds statements issued without a deadline.
const statementTimeout = 15 * time.Second

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// repository is embedded by the concrete repositories.
type repository struct {
	pool *pgxpool.Pool
}

// acquire returns the connection to use for ctx together with a context
// bounded by statementTimeout. The cancel func must always be called.
func (r repository) acquire(ctx context.Context) (context.Context, querier, context.CancelFunc) {
	ctx, cancel := bounded(ctx)
	return ctx, GetConn(ctx, r.pool), cancel
}

func bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, statementTimeout)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// optionalText maps "" to NULL.
func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// decodeDocument unmarshals a JSONB column. An empty column leaves v as is.
func decodeDocument(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
