package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.HTTPPort)
	assert.Equal(t, "HS256", cfg.JWTAlgorithm)
	assert.Equal(t, "nuru_session", cfg.SessionCookieName)
	assert.Equal(t, "bcrypt", cfg.PasswordHasher)
	assert.Equal(t, "log", cfg.Notifier)
	assert.Equal(t, 6, cfg.OTPLength)
	assert.Equal(t, 5.0, cfg.AuthRateLimitRPS)
	assert.Equal(t, 10, cfg.AuthRateLimitBurst)
	assert.Equal(t, time.Hour, cfg.AccessTokenLifetime())
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTokenLifetime())
	assert.Equal(t, 30*time.Minute, cfg.ResetTokenLifetime())
	assert.Equal(t, 10*time.Minute, cfg.OTPLifetime())
}

func TestLoad_Production_RejectsDefaultSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  defaultJWTSecret,
	})

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be explicitly set")
}

func TestLoad_Staging_RejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "staging",
		"JWT_SECRET":  "short-but-custom",
	})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_Production_AcceptsStrongSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  strongSecret,
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, strongSecret, cfg.JWTSecret)
}

func TestLoadFrom(t *testing.T) {
	t.Setenv("OTP_LENGTH", "8")

	cfg, err := LoadFrom(map[string]string{
		"NOTIFIER":             "webhook",
		"NOTIFIER_WEBHOOK_URL": "http://notifier.local/deliver",
		"KAFKA_BROKERS":        "k1:9092,k2:9092",
	})

	require.NoError(t, err)
	assert.Equal(t, "webhook", cfg.Notifier)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 6, cfg.OTPLength, "the process environment is ignored")
}

func TestLoadFrom_Validates(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"NOTIFIER": "webhook"})

	assert.Nil(t, cfg)
	assert.ErrorContains(t, err, "NOTIFIER_WEBHOOK_URL")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
		want string
	}{
		{"port", map[string]string{"IDENTITY_HTTP_PORT": "70000"}, "invalid HTTP port"},
		{"algorithm", map[string]string{"JWT_ALGORITHM": "RS256"}, "unsupported JWT_ALGORITHM"},
		{"access lifetime", map[string]string{"JWT_ACCESS_TOKEN_MINUTES": "0"}, "JWT_ACCESS_TOKEN_MINUTES must be positive"},
		{"otp lifetime", map[string]string{"OTP_MINUTES": "-1"}, "OTP_MINUTES must be positive"},
		{"otp length", map[string]string{"OTP_LENGTH": "3"}, "OTP_LENGTH"},
		{"hasher", map[string]string{"PASSWORD_HASHER": "md5"}, "unsupported PASSWORD_HASHER"},
		{"notifier", map[string]string{"NOTIFIER": "pigeon"}, "unsupported NOTIFIER"},
		{"webhook url", map[string]string{"NOTIFIER": "webhook"}, "NOTIFIER_WEBHOOK_URL"},
		{"rate limit", map[string]string{"AUTH_RATE_LIMIT_RPS": "-1"}, "AUTH_RATE_LIMIT_RPS"},
		{"sha256 in production", map[string]string{
			"ENVIRONMENT": "production", "JWT_SECRET": strongSecret, "PASSWORD_HASHER": "sha256",
		}, "not allowed in production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, tt.envs)

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should contain %q", err, tt.want)
		})
	}
}

func TestLoad_ListSettings(t *testing.T) {
	setEnvs(t, map[string]string{
		"KAFKA_BROKERS":        "k1:9092,k2:9092",
		"CORS_ALLOWED_ORIGINS": "https://app.nuru.tz,https://admin.nuru.tz",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://app.nuru.tz", "https://admin.nuru.tz"}, cfg.CORSAllowedOrigins)
}
