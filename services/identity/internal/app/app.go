package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/database"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/health"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/httpclient"
	pkgkafka "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/kafka"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/tracing"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/auth"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/config"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/event"
	handler "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/handler/http"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/notify"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/repository/postgres"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/service"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/migrations"
)

const serviceName = "identity"

// App wires together all dependencies and runs the identity service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Everything opened so far is released if a later step fails.
	var cleanups cleanupStack
	defer func() {
		if err != nil {
			cleanups.run()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       cfg.Environment != "production",
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	cleanups.push(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
	})

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	cleanups.push(pool.Close)
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Attempt limiter: Redis when enabled so replicas share counters.
	var (
		redisClient *redis.Client
		limiter     auth.AttemptLimiter
	)
	if cfg.RedisEnabled {
		redisCfg := database.DefaultRedisConfig()
		redisCfg.Host = cfg.RedisHost
		redisCfg.Port = cfg.RedisPort
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB

		redisClient, err = database.NewRedisClient(ctx, redisCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		cleanups.push(func() { _ = redisClient.Close() })
		limiter = auth.NewRedisLimiter(redisClient, cfg.OTPMaxAttempts)
	} else {
		logger.Warn("redis disabled, verification attempts are limited per process")
		limiter = auth.NewMemoryLimiter(cfg.OTPMaxAttempts)
	}

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	cleanups.push(func() { _ = producer.Close() })
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	notifier, err := newNotifier(cfg, producer, logger)
	if err != nil {
		return nil, err
	}

	// Build the dependency graph.
	tokens, err := auth.NewTokenCodec(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTIssuer,
		cfg.AccessTokenLifetime(), cfg.RefreshTokenLifetime())
	if err != nil {
		return nil, fmt.Errorf("create token codec: %w", err)
	}
	passwords, err := auth.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("create password hasher: %w", err)
	}

	principals := postgres.NewPrincipalRepository(pool)
	secrets := postgres.NewSecretRepository(pool)
	sessionAuthority := service.NewSessionAuthority(service.Dependencies{
		Principals: principals,
		Secrets:    secrets,
		Tx:         postgres.NewTransactor(pool),
		Tokens:     tokens,
		Resolver:   auth.NewResolver(tokens, principals),
		Passwords:  passwords,
		Issuer:     auth.NewEphemeralIssuer(cfg.OTPLength),
		Limiter:    limiter,
		Notifier:   notifier,
		Producer:   event.NewProducer(producer, logger),
		Logger:     logger,
	}, service.Lifetimes{
		Reset: cfg.ResetTokenLifetime(),
		OTP:   cfg.OTPLifetime(),
	})

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(sessionAuthority, healthHandler, logger, handler.RouterConfig{
		SessionCookieName:  cfg.SessionCookieName,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		PprofAllowedCIDRs:  cfg.PprofAllowedCIDRs,
		RateLimitRPS:       cfg.AuthRateLimitRPS,
		RateLimitBurst:     cfg.AuthRateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newNotifier builds the delivery transport selected by NOTIFIER.
func newNotifier(cfg *config.Config, producer notify.Publisher, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Notifier {
	case "log":
		return notify.NewLogNotifier(logger), nil
	case "kafka":
		return notify.NewKafkaNotifier(producer), nil
	case "webhook":
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(webhookClientConfig()),
			httpclient.DefaultCircuitBreakerConfig("notifier-webhook"),
			logger,
		)
		return notify.NewWebhookNotifier(cfg.NotifierWebhookURL, client), nil
	default:
		return nil, fmt.Errorf("unsupported notifier %q", cfg.Notifier)
	}
}

// webhookClientConfig disables retries: a retried POST could deliver the
// same reset link or code twice.
func webhookClientConfig() httpclient.Config {
	c := httpclient.DefaultConfig()
	c.MaxRetries = 0
	return c
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []func()

func (s *cleanupStack) push(fn func()) {
	*s = append(*s, fn)
}

func (s cleanupStack) run() {
	for i := len(s) - 1; i >= 0; i-- {
		s[i]()
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close Redis.
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
