package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// CredentialKind tells which channel a request authenticated over.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialBearer
	CredentialSession
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialBearer:
		return "bearer"
	case CredentialSession:
		return "session"
	default:
		return "none"
	}
}

// Credentials is what a request presented: a bearer token or, only when no
// Authorization header was sent, a session identifier.
type Credentials struct {
	Kind  CredentialKind
	Value string
}

// BearerCredentials wraps a bearer token. An empty token is kept as a bearer
// credential so it fails verification instead of falling through.
func BearerCredentials(token string) Credentials {
	return Credentials{Kind: CredentialBearer, Value: token}
}

// SessionCredentials wraps a session cookie value.
func SessionCredentials(id string) Credentials {
	return Credentials{Kind: CredentialSession, Value: id}
}

// CredentialsFromRequest extracts credentials from r. Any Authorization
// header selects the bearer channel, even a malformed one; the session
// cookie named cookieName is consulted only without it.
func CredentialsFromRequest(r *http.Request, cookieName string) Credentials {
	if header, ok := r.Header["Authorization"]; ok {
		var token string
		if len(header) > 0 {
			scheme, value, found := strings.Cut(strings.TrimSpace(header[0]), " ")
			if found && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(value)
			}
		}
		return BearerCredentials(token)
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return SessionCredentials(c.Value)
	}
	return Credentials{}
}

// PrincipalLoader loads principals by id. A missing principal is reported
// with an error matching apperrors.ErrNotFound.
type PrincipalLoader interface {
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
}

// Resolver turns credentials into an active principal.
type Resolver struct {
	tokens     *TokenCodec
	principals PrincipalLoader
}

// NewResolver creates a resolver.
func NewResolver(tokens *TokenCodec, principals PrincipalLoader) *Resolver {
	return &Resolver{tokens: tokens, principals: principals}
}

// Resolve returns the principal behind creds. A bearer token that fails
// verification is terminal. Unknown principals are unauthenticated;
// inactive ones are forbidden.
func (res *Resolver) Resolve(ctx context.Context, creds Credentials) (*domain.Principal, error) {
	var id string
	switch creds.Kind {
	case CredentialBearer:
		claims, err := res.tokens.Verify(creds.Value, PurposeAccess)
		if err != nil {
			msg := "invalid bearer token"
			if errors.Is(err, apperrors.ErrExpired) {
				msg = "bearer token has expired"
			}
			return nil, apperrors.Unauthenticated(msg, err)
		}
		id = claims.Subject
	case CredentialSession:
		id = creds.Value
	default:
		return nil, apperrors.Unauthenticated("authentication required", nil)
	}

	p, err := res.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthenticated("unknown principal", nil)
		}
		return nil, fmt.Errorf("load principal: %w", err)
	}
	if !p.IsActive {
		return nil, apperrors.Forbidden("account is inactive")
	}
	return p, nil
}
