package postgres

import (
	"context"

	"github.com/pashagolub/pgxmock/v4"
)

// inMockTx makes repositories run their statements against mock, the same
// way they join a transaction opened by TransactionManager.
func inMockTx(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txContextKey{}, mock)
}
