package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/database"
	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

const secretColumns = `id, principal_id, purpose, secret_hash, channel, destination,
		expires_at, consumed, consumed_at, created_at`

// SecretRepository implements repository.SecretRepository using PostgreSQL.
type SecretRepository struct {
	db database.DBTX
}

// NewSecretRepository creates a PostgreSQL-backed ephemeral secret repository.
func NewSecretRepository(db database.DBTX) *SecretRepository {
	return &SecretRepository{db: db}
}

// Create inserts a newly issued secret.
func (r *SecretRepository) Create(ctx context.Context, s *domain.EphemeralSecret) (err error) {
	query := `
		INSERT INTO ephemeral_secrets (id, principal_id, purpose, secret_hash, channel, destination, expires_at, consumed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "secret.create", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.PrincipalID,
		string(s.Purpose),
		s.SecretHash,
		string(s.Channel),
		s.Destination,
		s.ExpiresAt,
		s.Consumed,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ephemeral secret: %w", err)
	}
	return nil
}

// GetByHash finds a secret by purpose and digest.
func (r *SecretRepository) GetByHash(ctx context.Context, purpose domain.Purpose, hash string) (s *domain.EphemeralSecret, err error) {
	query := `SELECT ` + secretColumns + ` FROM ephemeral_secrets WHERE purpose = $1 AND secret_hash = $2`

	ctx, end := database.TraceQuery(ctx, "secret.get_by_hash", query)
	defer func() { end(err) }()

	return r.scanSecret(ctx, query, string(purpose), hash)
}

// GetLatestActive returns the newest unconsumed secret of purpose for principalID.
func (r *SecretRepository) GetLatestActive(ctx context.Context, principalID string, purpose domain.Purpose) (s *domain.EphemeralSecret, err error) {
	query := `SELECT ` + secretColumns + ` FROM ephemeral_secrets
		WHERE principal_id = $1 AND purpose = $2 AND consumed = FALSE
		ORDER BY created_at DESC
		LIMIT 1`

	ctx, end := database.TraceQuery(ctx, "secret.get_latest_active", query)
	defer func() { end(err) }()

	return r.scanSecret(ctx, query, principalID, string(purpose))
}

// InvalidateOutstanding pulls the expiry of every unconsumed secret of
// purpose for principalID back to at.
func (r *SecretRepository) InvalidateOutstanding(ctx context.Context, principalID string, purpose domain.Purpose, at time.Time) (n int64, err error) {
	query := `
		UPDATE ephemeral_secrets
		SET expires_at = $3
		WHERE principal_id = $1 AND purpose = $2 AND consumed = FALSE AND expires_at > $3`

	ctx, end := database.TraceQuery(ctx, "secret.invalidate_outstanding", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, principalID, string(purpose), at)
	if err != nil {
		return 0, fmt.Errorf("invalidate outstanding secrets: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Consume is a compare-and-set: only an unconsumed, unexpired row flips.
func (r *SecretRepository) Consume(ctx context.Context, id string, at time.Time) (ok bool, err error) {
	query := `
		UPDATE ephemeral_secrets
		SET consumed = TRUE, consumed_at = $2
		WHERE id = $1 AND consumed = FALSE AND expires_at > $2`

	ctx, end := database.TraceQuery(ctx, "secret.consume", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("consume ephemeral secret: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *SecretRepository) scanSecret(ctx context.Context, query string, args ...any) (*domain.EphemeralSecret, error) {
	var (
		s                domain.EphemeralSecret
		purpose, channel string
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&s.ID,
		&s.PrincipalID,
		&purpose,
		&s.SecretHash,
		&channel,
		&s.Destination,
		&s.ExpiresAt,
		&s.Consumed,
		&s.ConsumedAt,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("ephemeral secret", "")
		}
		return nil, fmt.Errorf("query ephemeral secret: %w", err)
	}
	s.Purpose = domain.Purpose(purpose)
	s.Channel = domain.Channel(channel)
	return &s, nil
}
