package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/health"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/middleware"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/service"
)

const serviceName = "identity"

// RouterConfig holds the HTTP surface settings that come from configuration.
type RouterConfig struct {
	SessionCookieName  string
	CORSAllowedOrigins []string
	PprofAllowedCIDRs  []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// NewRouter creates a chi router with all identity service routes registered.
func NewRouter(
	svc *service.SessionAuthority,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins)))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	authHandler := NewAuthHandler(svc, logger)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))

			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequirePrincipal(svc, cfg.SessionCookieName, logger))

			r.Get("/me", authHandler.Me)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Post("/verify/{purpose}/request", authHandler.RequestVerification)
			r.Post("/verify/{purpose}/confirm", authHandler.ConfirmVerification)
		})
	})

	return r
}
