package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dguerrero-dev/facturacion-sri/internal/application/billing"
)

var _ billing.DocumentLocker = (*AdvisoryLocker)(nil)

// AdvisoryLocker serializa las emisiones de un mismo comprobante con un
// advisory lock transaccional de PostgreSQL. El lock se mantiene mientras dura
// la transacción que lo tomó: cubre el ciclo completo de emisión, y si el
// proceso muere el lock se libera solo.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker construye el locker con el pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// WithLock toma pg_advisory_xact_lock(hashtext(key)) y ejecuta fn. Una segunda
// emisión de la misma clave bloquea aquí hasta que la primera termine, y al
// entrar re-lee el estado fresco (el orquestador re-verifica dentro del lock).
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin lock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}

	if err := fn(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lock transaction: %w", err)
	}
	return nil
}
