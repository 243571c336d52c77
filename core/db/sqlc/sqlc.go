// Package sqlc holds the hand-written query layer for the three Postgres
// tables backing C2 (turn_index, research_index, calibration). The teacher's
// snapshot generates this package from SQL with sqlc; our schema diverges
// enough from the generated original that the queries are written directly
// against the same DBTX contract sqlc itself would produce, so callers
// (core/db.DB, internal/store) don't change shape.
package sqlc

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, matching sqlc's
// generated interface so Queries works identically inside and outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with the turn_index / research_index / calibration
// statements. A Queries can be built over a pool (New) or a transaction
// (inside db.WithTx), identically.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}
