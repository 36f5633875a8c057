package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Beginner starts a transaction. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Pool is the part of *pgxpool.Pool the repositories depend on.
type Pool interface {
	Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var repeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// WithTx runs fn in a RepeatableRead transaction. Row locks taken inside fn
// are held until commit. Any error rolls back and comes back through MapError.
func WithTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	return MapError(pgx.BeginTxFunc(ctx, b, repeatableRead, fn))
}
