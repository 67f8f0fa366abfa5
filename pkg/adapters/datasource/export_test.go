package datasource

import (
	"context"
	"database/sql"
)

func (m *ConnectionManager) PoolFor(spec ConnectionSpec) (*sql.DB, error) {
	return m.pool(spec)
}

func (m *ConnectionManager) BorrowFrom(ctx context.Context, spec ConnectionSpec, db *sql.DB) (*sql.Conn, error) {
	return m.borrow(ctx, spec, db)
}
