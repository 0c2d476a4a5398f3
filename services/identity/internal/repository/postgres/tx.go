package postgres

import (
	"context"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/database"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/repository"
)

// Transactor implements repository.Transactor on a pgx pool.
type Transactor struct {
	pool database.Pool
}

// NewTransactor creates a Transactor.
func NewTransactor(pool database.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx runs fn with repositories bound to one transaction.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	return database.WithTx(ctx, t.pool, func(ctx context.Context, tx database.DBTX) error {
		return fn(ctx, NewStore(tx))
	})
}

// NewStore binds every repository to db.
func NewStore(db database.DBTX) repository.Store {
	return repository.Store{
		Principals: NewPrincipalRepository(db),
		Secrets:    NewSecretRepository(db),
	}
}
