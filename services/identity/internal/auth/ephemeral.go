package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

const (
	resetTokenBytes  = 32
	defaultOTPLength = 6
)

// SecretConsumer flips an ephemeral secret to consumed. Consume must be a
// compare-and-set: it reports false when the secret was already consumed or
// expired at at, so exactly one concurrent caller wins.
type SecretConsumer interface {
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
}

// EphemeralIssuer generates single-use secrets and verifies them.
type EphemeralIssuer struct {
	digest    DigestHasher
	otpLength int
	now       func() time.Time
	random    io.Reader
}

// EphemeralOption configures an EphemeralIssuer.
type EphemeralOption func(*EphemeralIssuer)

// WithEphemeralClock overrides the issuer's time source.
func WithEphemeralClock(now func() time.Time) EphemeralOption {
	return func(e *EphemeralIssuer) { e.now = now }
}

// NewEphemeralIssuer creates an issuer producing OTP codes of otpLength
// digits; non-positive lengths use the default of 6.
func NewEphemeralIssuer(otpLength int, opts ...EphemeralOption) *EphemeralIssuer {
	if otpLength <= 0 {
		otpLength = defaultOTPLength
	}
	e := &EphemeralIssuer{otpLength: otpLength, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issue creates a raw secret for purpose and the record to persist for it.
// Reset secrets are 64 hex characters; contact verification secrets are
// numeric codes. The raw value is never stored.
func (e *EphemeralIssuer) Issue(principalID string, purpose domain.Purpose, lifetime time.Duration) (string, *domain.EphemeralSecret, error) {
	var (
		raw string
		err error
	)
	if purpose == domain.PurposeReset {
		raw, err = e.resetToken()
	} else {
		raw, err = e.numericCode()
	}
	if err != nil {
		return "", nil, fmt.Errorf("generate %s secret: %w", purpose, err)
	}

	digest, _ := e.digest.Hash(raw)
	now := e.now().UTC()
	return raw, &domain.EphemeralSecret{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Purpose:     purpose,
		SecretHash:  digest,
		ExpiresAt:   now.Add(lifetime),
		CreatedAt:   now,
	}, nil
}

// Digest returns the lookup digest of a raw secret.
func (e *EphemeralIssuer) Digest(raw string) string {
	d, _ := e.digest.Hash(raw)
	return d
}

// VerifyAndConsume checks raw against record and consumes it through
// consumer. Checks run in order: expiry, prior consumption, value. A lost
// compare-and-set is reported as already used.
func (e *EphemeralIssuer) VerifyAndConsume(ctx context.Context, consumer SecretConsumer, record *domain.EphemeralSecret, raw string) error {
	now := e.now().UTC()
	switch {
	case record.ExpiredAt(now):
		return apperrors.Expired("secret has expired")
	case record.Consumed:
		return apperrors.AlreadyUsed("secret has already been used")
	case !e.digest.Verify(raw, record.SecretHash):
		return apperrors.Mismatch("secret does not match")
	}

	ok, err := consumer.Consume(ctx, record.ID, now)
	if err != nil {
		return fmt.Errorf("consume secret %s: %w", record.ID, err)
	}
	if !ok {
		return apperrors.AlreadyUsed("secret has already been used")
	}
	record.MarkConsumed(now)
	return nil
}

func (e *EphemeralIssuer) resetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(e.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (e *EphemeralIssuer) numericCode() (string, error) {
	code := make([]byte, e.otpLength)
	ten := big.NewInt(10)
	for i := range code {
		n, err := rand.Int(e.random, ten)
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
