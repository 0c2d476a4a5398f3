package repository

import (
	"context"
	"time"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// PrincipalRepository reads principals and writes the few columns the
// identity service owns.
type PrincipalRepository interface {
	// GetByID retrieves a principal by id.
	GetByID(ctx context.Context, id string) (*domain.Principal, error)

	// GetByIdentifier retrieves a principal by email (case-insensitive) or
	// phone number.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Principal, error)

	// UpdatePasswordHash replaces the stored password digest.
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// MarkContactVerified sets the verification flag matching purpose.
	MarkContactVerified(ctx context.Context, id string, purpose domain.Purpose) error
}

// SecretRepository persists ephemeral secrets.
type SecretRepository interface {
	// Create stores a newly issued secret.
	Create(ctx context.Context, secret *domain.EphemeralSecret) error

	// GetByHash finds a secret of purpose by its digest.
	GetByHash(ctx context.Context, purpose domain.Purpose, hash string) (*domain.EphemeralSecret, error)

	// GetLatestActive returns the newest unconsumed secret of purpose for a
	// principal, expired or not.
	GetLatestActive(ctx context.Context, principalID string, purpose domain.Purpose) (*domain.EphemeralSecret, error)

	// InvalidateOutstanding expires every unconsumed secret of purpose for a
	// principal at at and returns how many were affected.
	InvalidateOutstanding(ctx context.Context, principalID string, purpose domain.Purpose, at time.Time) (int64, error)

	// Consume marks a secret consumed if it is still unconsumed and unexpired
	// at at. It reports whether this call won.
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
}

// Store groups repositories bound to the same connection or transaction.
type Store struct {
	Principals PrincipalRepository
	Secrets    SecretRepository
}

// Transactor runs fn with repositories bound to a single transaction. The
// transaction commits when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
