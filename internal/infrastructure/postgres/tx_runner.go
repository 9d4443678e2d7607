package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
// Por defecto READ COMMITTED: las transiciones del store se protegen con SELECT ... FOR UPDATE
// y advisory locks, no con el nivel de aislamiento.
type TxRunner struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// Run ejecuta fn con la tx como Querier; Commit si fn no falla, Rollback en otro caso.
// Los errores de fn se devuelven sin envolver.
func (r *TxRunner) Run(ctx context.Context, fn func(q Querier) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
