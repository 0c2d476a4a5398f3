package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/httputil"
)

// Recovery recovers from panics and returns a 500 envelope instead of crashing.
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func Recovery(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				l.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteFailure(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
