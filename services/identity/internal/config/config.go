package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/config"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the identity service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"IDENTITY_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"nuru"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"nuru_secret"`
	PostgresDB            string `env:"IDENTITY_DB_NAME" envDefault:"nuru_identity"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`
	SlowQueryThresholdMs  int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis backs the verification attempt limiter.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Bearer tokens
	JWTSecret         string `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAlgorithm      string `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTAccessMinutes  int    `env:"JWT_ACCESS_TOKEN_MINUTES" envDefault:"60"`
	JWTRefreshDays    int    `env:"JWT_REFRESH_TOKEN_DAYS" envDefault:"14"`
	JWTIssuer         string `env:"JWT_ISSUER" envDefault:"nuru-identity"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"nuru_session"`

	// Ephemeral secrets
	ResetTokenMinutes int `env:"RESET_TOKEN_MINUTES" envDefault:"30"`
	OTPMinutes        int `env:"OTP_MINUTES" envDefault:"10"`
	OTPLength         int `env:"OTP_LENGTH" envDefault:"6"`
	OTPMaxAttempts    int `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`

	// Password hashing
	PasswordHasher string `env:"PASSWORD_HASHER" envDefault:"bcrypt"`
	BcryptCost     int    `env:"BCRYPT_COST" envDefault:"12"`

	// Delivery of reset links and OTP codes
	Notifier           string `env:"NOTIFIER" envDefault:"log"`
	NotifierWebhookURL string `env:"NOTIFIER_WEBHOOK_URL"`

	// Per-IP throttle on the unauthenticated auth endpoints; 0 disables it.
	AuthRateLimitRPS   float64 `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	AuthRateLimitBurst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// pprof
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Supported values for the enum-like settings.
var (
	jwtAlgorithms   = []string{"HS256", "HS384", "HS512"}
	passwordHashers = []string{"bcrypt", "argon2id", "sha256"}
	notifiers       = []string{"log", "kafka", "webhook"}
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(pkgconfig.Load)
}

// LoadFrom reads configuration from environ instead of the process
// environment; unset keys take their defaults.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(func(cfg any) error { return pkgconfig.LoadFrom(cfg, environ) })
}

func load(parse func(any) error) (*Config, error) {
	cfg := &Config{}
	if err := parse(cfg); err != nil {
		return nil, fmt.Errorf("load identity config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	// Outside development the signing key must be explicit and strong.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if !slices.Contains(jwtAlgorithms, c.JWTAlgorithm) {
		return fmt.Errorf("unsupported JWT_ALGORITHM %q, want one of %v", c.JWTAlgorithm, jwtAlgorithms)
	}

	for name, v := range map[string]int{
		"JWT_ACCESS_TOKEN_MINUTES": c.JWTAccessMinutes,
		"JWT_REFRESH_TOKEN_DAYS":   c.JWTRefreshDays,
		"RESET_TOKEN_MINUTES":      c.ResetTokenMinutes,
		"OTP_MINUTES":              c.OTPMinutes,
		"OTP_MAX_ATTEMPTS":         c.OTPMaxAttempts,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}

	if !slices.Contains(passwordHashers, c.PasswordHasher) {
		return fmt.Errorf("unsupported PASSWORD_HASHER %q, want one of %v", c.PasswordHasher, passwordHashers)
	}
	if c.PasswordHasher == "sha256" && c.Environment == "production" {
		return fmt.Errorf("PASSWORD_HASHER sha256 is not allowed in production")
	}
	if !slices.Contains(notifiers, c.Notifier) {
		return fmt.Errorf("unsupported NOTIFIER %q, want one of %v", c.Notifier, notifiers)
	}
	if c.Notifier == "webhook" && c.NotifierWebhookURL == "" {
		return fmt.Errorf("NOTIFIER_WEBHOOK_URL is required when NOTIFIER=webhook")
	}
	if c.AuthRateLimitRPS < 0 || c.AuthRateLimitBurst < 0 {
		return fmt.Errorf("AUTH_RATE_LIMIT_RPS and AUTH_RATE_LIMIT_BURST must not be negative")
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	return nil
}

// AccessTokenLifetime returns the bearer access token lifetime.
func (c *Config) AccessTokenLifetime() time.Duration {
	return time.Duration(c.JWTAccessMinutes) * time.Minute
}

// RefreshTokenLifetime returns the refresh token lifetime.
func (c *Config) RefreshTokenLifetime() time.Duration {
	return time.Duration(c.JWTRefreshDays) * 24 * time.Hour
}

// ResetTokenLifetime returns how long a password reset token stays valid.
func (c *Config) ResetTokenLifetime() time.Duration {
	return time.Duration(c.ResetTokenMinutes) * time.Minute
}

// OTPLifetime returns how long a contact verification code stays valid.
func (c *Config) OTPLifetime() time.Duration {
	return time.Duration(c.OTPMinutes) * time.Minute
}
