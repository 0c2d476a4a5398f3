package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/database"
	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

const principalColumns = `id, COALESCE(email, ''), COALESCE(phone, ''), password_hash, is_active,
		email_verified, phone_verified, identity_verified, created_at, updated_at`

// PrincipalRepository implements repository.PrincipalRepository using PostgreSQL.
type PrincipalRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewPrincipalRepository creates a PostgreSQL-backed principal repository.
func NewPrincipalRepository(db database.DBTX) *PrincipalRepository {
	return &PrincipalRepository{db: db, now: time.Now}
}

// GetByID retrieves a principal by id. Ids that are not UUIDs, as a forged
// session cookie may carry, are reported as not found.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (p *domain.Principal, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, apperrors.NotFound("principal", id)
	}

	query := `SELECT ` + principalColumns + ` FROM users WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "principal.get_by_id", query)
	defer func() { end(err) }()

	return r.scanPrincipal(ctx, query, id)
}

// GetByIdentifier retrieves a principal by email or phone.
func (r *PrincipalRepository) GetByIdentifier(ctx context.Context, identifier string) (p *domain.Principal, err error) {
	identifier = strings.TrimSpace(identifier)
	query := `SELECT ` + principalColumns + ` FROM users WHERE lower(email) = lower($1) OR phone = $1 LIMIT 1`

	ctx, end := database.TraceQuery(ctx, "principal.get_by_identifier", query)
	defer func() { end(err) }()

	return r.scanPrincipal(ctx, query, identifier)
}

// UpdatePasswordHash replaces the password digest.
func (r *PrincipalRepository) UpdatePasswordHash(ctx context.Context, id, hash string) (err error) {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "principal.update_password", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, hash, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

// MarkContactVerified sets phone_verified or email_verified.
func (r *PrincipalRepository) MarkContactVerified(ctx context.Context, id string, purpose domain.Purpose) (err error) {
	var column string
	switch purpose {
	case domain.PurposePhone:
		column = "phone_verified"
	case domain.PurposeEmail:
		column = "email_verified"
	default:
		return apperrors.InvalidInput(fmt.Sprintf("purpose %q has no verification flag", purpose))
	}
	query := `UPDATE users SET ` + column + ` = TRUE, updated_at = $1 WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "principal.mark_verified", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark %s verified: %w", purpose, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

func (r *PrincipalRepository) scanPrincipal(ctx context.Context, query string, arg any) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.Email,
		&p.Phone,
		&p.PasswordHash,
		&p.IsActive,
		&p.EmailVerified,
		&p.PhoneVerified,
		&p.IdentityVerified,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("principal", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("query principal: %w", err)
	}
	return &p, nil
}
