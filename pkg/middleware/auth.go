package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/logger"
)

// Identity is an authenticated caller.
type Identity interface {
	Subject() string
}

type identityKey[T Identity] struct{}

type subjectKey struct{}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate resolves the caller of every request with resolve. On success
// the identity is stored in context and the request-scoped logger gains a
// principal_id attribute; on failure onError writes the response and the
// chain stops.
func Authenticate[T Identity](resolve func(*http.Request) (T, error), onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolve(r)
			if err != nil {
				onError(w, r, err)
				return
			}

			subject := id.Subject()
			ctx := WithIdentity(r.Context(), id)
			ctx = logger.WithPrincipalID(ctx, subject)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("principal_id", subject)))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity stores id and its subject in ctx.
func WithIdentity[T Identity](ctx context.Context, id T) context.Context {
	ctx = context.WithValue(ctx, identityKey[T]{}, id)
	return context.WithValue(ctx, subjectKey{}, id.Subject())
}

// IdentityFromContext returns the identity stored by Authenticate.
func IdentityFromContext[T Identity](ctx context.Context) (T, bool) {
	id, ok := ctx.Value(identityKey[T]{}).(T)
	return id, ok
}

// SubjectFromContext returns the authenticated subject id, or "".
func SubjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok {
		return s
	}
	return ""
}
