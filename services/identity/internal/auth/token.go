package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// TokenPurpose is carried in the signed "typ" claim so an access token can
// never be replayed as a refresh token or the other way round.
type TokenPurpose string

const (
	PurposeAccess  TokenPurpose = "access"
	PurposeRefresh TokenPurpose = "refresh"
)

// Claims are the claims of every bearer token.
type Claims struct {
	Purpose TokenPurpose `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HMAC-signed bearer tokens.
type TokenCodec struct {
	key        []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec creates a codec signing with secret under algorithm, one of
// HS256, HS384 or HS512.
func NewTokenCodec(secret, algorithm, issuer string, accessTTL, refreshTTL time.Duration, opts ...TokenOption) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token signing key is empty")
	}
	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}

	c := &TokenCodec{
		key:        []byte(secret),
		method:     method,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject that expires lifetime from now.
func (c *TokenCodec) Issue(subject string, purpose TokenPurpose, lifetime time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("token subject is empty")
	}
	now := c.now().UTC()
	// JWT dates have whole-second precision; round exp up so a token never
	// expires before its full lifetime has elapsed.
	exp := now.Add(lifetime)
	if t := exp.Truncate(time.Second); t.Before(exp) {
		exp = t.Add(time.Second)
	}
	claims := &Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, claims, nil
}

// IssueAccess issues an access token with the configured lifetime.
func (c *TokenCodec) IssueAccess(subject string) (string, *Claims, error) {
	return c.Issue(subject, PurposeAccess, c.accessTTL)
}

// IssueRefresh issues a refresh token with the configured lifetime.
func (c *TokenCodec) IssueRefresh(subject string) (string, *Claims, error) {
	return c.Issue(subject, PurposeRefresh, c.refreshTTL)
}

// IssuePair issues a fresh access and refresh token for subject.
func (c *TokenCodec) IssuePair(subject string) (*domain.TokenPair, error) {
	access, accessClaims, err := c.IssueAccess(subject)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := c.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// Verify checks the signature, expiry and purpose of token. Expired tokens
// yield an error matching ErrExpired; every other defect matches
// ErrInvalidToken.
func (c *TokenCodec) Verify(token string, expected TokenPurpose) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, apperrors.Expired("token has expired")
	case err != nil:
		return nil, apperrors.InvalidToken("token is invalid")
	case claims.Subject == "":
		return nil, apperrors.InvalidToken("token has no subject")
	case claims.Purpose != expected:
		return nil, apperrors.InvalidToken(fmt.Sprintf("expected %s token", expected))
	}
	return claims, nil
}
