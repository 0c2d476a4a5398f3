package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/httputil"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/middleware"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/auth"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/service"
)

// ContentTypeJSON rejects request bodies that are not declared as JSON.
// Bodiless POSTs pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 && r.Method != http.MethodGet {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				httputil.WriteFailure(w, r, http.StatusUnsupportedMediaType,
					"UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePrincipal authenticates every request through the session
// authority. A bearer header always wins over the session cookie.
func RequirePrincipal(svc *service.SessionAuthority, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	resolve := func(r *http.Request) (*domain.Principal, error) {
		return svc.Identify(r.Context(), auth.CredentialsFromRequest(r, cookieName))
	}
	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, apperrors.ErrUnauthorized) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="nuru"`)
		}
		httputil.WriteError(w, r, err, logger)
	}
	return middleware.Authenticate(resolve, onError)
}

// principalFrom returns the principal stored by RequirePrincipal.
func principalFrom(r *http.Request) (*domain.Principal, bool) {
	return middleware.IdentityFromContext[*domain.Principal](r.Context())
}
