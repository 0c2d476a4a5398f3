package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

func newSecretTestFixture(t *testing.T) (*SecretRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewSecretRepository(mock), mock
}

func sampleSecret() *domain.EphemeralSecret {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.EphemeralSecret{
		ID:          "0b7d4c52-7a0e-4b5b-8d0e-1f8f1c7e2a33",
		PrincipalID: principalID,
		Purpose:     domain.PurposePhone,
		SecretHash:  "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92",
		Channel:     domain.ChannelSMS,
		Destination: "+255712345678",
		ExpiresAt:   now.Add(10 * time.Minute),
		CreatedAt:   now,
	}
}

func secretRow(s *domain.EphemeralSecret) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "principal_id", "purpose", "secret_hash", "channel", "destination",
		"expires_at", "consumed", "consumed_at", "created_at",
	}).AddRow(
		s.ID, s.PrincipalID, string(s.Purpose), s.SecretHash, string(s.Channel), s.Destination,
		s.ExpiresAt, s.Consumed, s.ConsumedAt, s.CreatedAt,
	)
}

func TestSecretRepository_Create(t *testing.T) {
	repo, mock := newSecretTestFixture(t)
	s := sampleSecret()

	mock.ExpectExec("INSERT INTO ephemeral_secrets").
		WithArgs(s.ID, s.PrincipalID, "phone", s.SecretHash, "sms", s.Destination, s.ExpiresAt, false, s.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecretRepository_Create_DBError(t *testing.T) {
	repo, mock := newSecretTestFixture(t)
	boom := errors.New("disk full")

	mock.ExpectExec("INSERT INTO ephemeral_secrets").WillReturnError(boom)

	assert.ErrorIs(t, repo.Create(context.Background(), sampleSecret()), boom)
}

func TestSecretRepository_GetByHash(t *testing.T) {
	repo, mock := newSecretTestFixture(t)
	s := sampleSecret()
	s.Purpose = domain.PurposeReset

	mock.ExpectQuery("FROM ephemeral_secrets WHERE purpose = \\$1 AND secret_hash = \\$2").
		WithArgs("reset", s.SecretHash).
		WillReturnRows(secretRow(s))

	got, err := repo.GetByHash(context.Background(), domain.PurposeReset, s.SecretHash)

	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecretRepository_GetByHash_NotFound(t *testing.T) {
	repo, mock := newSecretTestFixture(t)

	mock.ExpectQuery("FROM ephemeral_secrets").
		WithArgs("reset", "nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByHash(context.Background(), domain.PurposeReset, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSecretRepository_GetLatestActive(t *testing.T) {
	repo, mock := newSecretTestFixture(t)
	s := sampleSecret()
	consumedAt := s.CreatedAt.Add(time.Minute)
	s.ConsumedAt = &consumedAt

	mock.ExpectQuery("consumed = FALSE\\s+ORDER BY created_at DESC\\s+LIMIT 1").
		WithArgs(principalID, "phone").
		WillReturnRows(secretRow(s))

	got, err := repo.GetLatestActive(context.Background(), principalID, domain.PurposePhone)

	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	require.NotNil(t, got.ConsumedAt)
	assert.Equal(t, consumedAt, *got.ConsumedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecretRepository_InvalidateOutstanding(t *testing.T) {
	repo, mock := newSecretTestFixture(t)
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE ephemeral_secrets\\s+SET expires_at = \\$3").
		WithArgs(principalID, "reset", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := repo.InvalidateOutstanding(context.Background(), principalID, domain.PurposeReset, at)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecretRepository_Consume(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"wins", 1, true},
		{"already consumed or expired", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newSecretTestFixture(t)
			at := time.Now().UTC()

			mock.ExpectExec("SET consumed = TRUE, consumed_at = \\$2\\s+WHERE id = \\$1 AND consumed = FALSE AND expires_at > \\$2").
				WithArgs("secret-1", at).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := repo.Consume(context.Background(), "secret-1", at)

			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSecretRepository_Consume_DBError(t *testing.T) {
	repo, mock := newSecretTestFixture(t)
	boom := errors.New("deadlock detected")

	mock.ExpectExec("UPDATE ephemeral_secrets").WillReturnError(boom)

	ok, err := repo.Consume(context.Background(), "secret-1", time.Now())
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}
