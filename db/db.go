package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is the entire surface Queries calls on its pool: Exec/Query/QueryRow
// for statements, Begin for the transactional writes in commit.go and
// identity.sql.go. Both *pgxpool.Pool and pgx.Tx satisfy it identically,
// which lets CommitFeedUpdate build a transaction-scoped *Queries over a
// pgx.Tx and call the same exported methods top-level callers use.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queries is the pgx-backed implementation of Querier. Grounded on the
// teacher's db.New(conn)/*Queries pattern (app/application.go called
// db.New(conn) to build the Querier it stored on Application).
type Queries struct {
	pool dbtx
}

func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

var _ Querier = (*Queries)(nil)
