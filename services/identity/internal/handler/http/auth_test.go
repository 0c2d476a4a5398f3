package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/health"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/auth"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/event"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/notify"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/repository"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/service"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type mockPrincipalRepo struct {
	mock.Mock
}

func (m *mockPrincipalRepo) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Principal), args.Error(1)
}

func (m *mockPrincipalRepo) GetByIdentifier(ctx context.Context, identifier string) (*domain.Principal, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Principal), args.Error(1)
}

func (m *mockPrincipalRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

func (m *mockPrincipalRepo) MarkContactVerified(ctx context.Context, id string, purpose domain.Purpose) error {
	return m.Called(ctx, id, purpose).Error(0)
}

type mockSecretRepo struct {
	mock.Mock
}

func (m *mockSecretRepo) Create(ctx context.Context, secret *domain.EphemeralSecret) error {
	return m.Called(ctx, secret).Error(0)
}

func (m *mockSecretRepo) GetByHash(ctx context.Context, purpose domain.Purpose, hash string) (*domain.EphemeralSecret, error) {
	args := m.Called(ctx, purpose, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralSecret), args.Error(1)
}

func (m *mockSecretRepo) GetLatestActive(ctx context.Context, principalID string, purpose domain.Purpose) (*domain.EphemeralSecret, error) {
	args := m.Called(ctx, principalID, purpose)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralSecret), args.Error(1)
}

func (m *mockSecretRepo) InvalidateOutstanding(ctx context.Context, principalID string, purpose domain.Purpose, at time.Time) (int64, error) {
	args := m.Called(ctx, principalID, purpose, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSecretRepo) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

type passthroughTx struct {
	store repository.Store
}

func (p passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	return fn(ctx, p.store)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Deliver(ctx context.Context, channel domain.Channel, destination string, payload notify.Payload) error {
	return m.Called(ctx, channel, destination, payload).Error(0)
}

// ============================================================================
// Test Helpers
// ============================================================================

const (
	testCookieName = "nuru_session"
	testPassword   = "Correct#Horse9"
)

type testEnv struct {
	router     http.Handler
	principals *mockPrincipalRepo
	secrets    *mockSecretRepo
	notifier   *mockNotifier
	tokens     *auth.TokenCodec
	passwords  *auth.UpgradingHasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	principals := &mockPrincipalRepo{}
	secrets := &mockSecretRepo{}
	notifier := &mockNotifier{}

	passwords, err := auth.NewPasswordHasher("bcrypt", 4)
	require.NoError(t, err)
	tokens, err := auth.NewTokenCodec("0123456789abcdef0123456789abcdef", "HS256", "nuru-identity", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	svc := service.NewSessionAuthority(service.Dependencies{
		Principals: principals,
		Secrets:    secrets,
		Tx:         passthroughTx{store: repository.Store{Principals: principals, Secrets: secrets}},
		Tokens:     tokens,
		Resolver:   auth.NewResolver(tokens, principals),
		Passwords:  passwords,
		Issuer:     auth.NewEphemeralIssuer(6),
		Limiter:    auth.NewMemoryLimiter(5),
		Notifier:   notifier,
		Producer:   event.NewProducer(nil, logger),
		Logger:     logger,
	}, service.Lifetimes{Reset: 30 * time.Minute, OTP: 10 * time.Minute})

	router := NewRouter(svc, health.NewHandler(), logger, RouterConfig{
		SessionCookieName:  testCookieName,
		CORSAllowedOrigins: []string{"https://app.nuru.tz"},
	})

	return &testEnv{
		router:     router,
		principals: principals,
		secrets:    secrets,
		notifier:   notifier,
		tokens:     tokens,
		passwords:  passwords,
	}
}

func (e *testEnv) principal(t *testing.T) *domain.Principal {
	t.Helper()
	digest, err := e.passwords.Hash(testPassword)
	require.NoError(t, err)
	return &domain.Principal{
		ID:           "p-1",
		Email:        "amina@example.com",
		Phone:        "+255712345678",
		PasswordHash: digest,
		IsActive:     true,
	}
}

func (e *testEnv) bearer(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := e.tokens.IssueAccess(subject)
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type errorData struct {
	Code   string   `json:"code"`
	Errors []string `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorData {
	t.Helper()
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	var data errorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

// ============================================================================
// Login / Refresh
// ============================================================================

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByIdentifier", mock.Anything, "amina@example.com").Return(env.principal(t), nil)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": "amina@example.com",
		"password":   testPassword,
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := decodeEnvelope(t, rec)
	assert.True(t, body.Success)
	var data struct {
		Principal map[string]any   `json:"principal"`
		Tokens    domain.TokenPair `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "p-1", data.Principal["id"])
	assert.NotContains(t, data.Principal, "password_hash")
	assert.Equal(t, "Bearer", data.Tokens.TokenType)
	_, err := env.tokens.Verify(data.Tokens.AccessToken, auth.PurposeAccess)
	assert.NoError(t, err)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByIdentifier", mock.Anything, "+255712345678").Return(env.principal(t), nil)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": "+255712345678",
		"password":   "Wrong#Pass1",
	}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, rec).Code)
}

func TestLogin_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": "not an identifier",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	data := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", data.Code)
	assert.Len(t, data.Errors, 2)
	env.principals.AssertNotCalled(t, "GetByIdentifier", mock.Anything, mock.Anything)
}

func TestLogin_RejectsNonJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("identifier=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := env.do(req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	access, _, err := env.tokens.IssueAccess("p-1")
	require.NoError(t, err)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": access,
	}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// Identify (/me)
// ============================================================================

func TestMe_Bearer(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var p map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &p))
	assert.Equal(t, "p-1", p["id"])
}

func TestMe_SessionCookie(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: "p-1"})

	rec := env.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMe_NoCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestMe_BadBearerDoesNotFallBackToCookie(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer forged.token.value")
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: "p-1"})

	rec := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env.principals.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestMe_InactivePrincipal(t *testing.T) {
	env := newTestEnv(t)
	p := env.principal(t)
	p.IsActive = false
	env.principals.On("GetByID", mock.Anything, "p-1").Return(p, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

// ============================================================================
// Change password
// ============================================================================

func TestChangePassword_MismatchedConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": testPassword,
		"new_password":     "Battery$Staple7",
		"confirm_password": "Battery$Staple8",
	})
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	data := decodeError(t, rec)
	assert.Equal(t, []string{"passwords do not match"}, data.Errors)
	env.principals.AssertNotCalled(t, "UpdatePasswordHash", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangePassword_Success(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	env.principals.On("UpdatePasswordHash", mock.Anything, "p-1", mock.Anything).Return(nil)
	env.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": testPassword,
		"new_password":     "Battery$Staple7",
		"confirm_password": "Battery$Staple7",
	})
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeEnvelope(t, rec).Success)
}

func TestChangePassword_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// Password reset
// ============================================================================

func TestForgotPassword_UnknownIdentifierLooksLikeSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByIdentifier", mock.Anything, "ghost@example.com").
		Return(nil, apperrors.NotFound("principal", "ghost@example.com"))

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{
		"identifier": "ghost@example.com",
	}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestResetPassword_AlreadyUsed(t *testing.T) {
	env := newTestEnv(t)
	issuer := auth.NewEphemeralIssuer(6)
	raw, record, err := issuer.Issue("p-1", domain.PurposeReset, time.Hour)
	require.NoError(t, err)
	record.Consumed = true
	env.secrets.On("GetByHash", mock.Anything, domain.PurposeReset, record.SecretHash).Return(record, nil)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{
		"token":            raw,
		"new_password":     "Battery$Staple7",
		"confirm_password": "Battery$Staple7",
	}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_USED", decodeError(t, rec).Code)
}

// ============================================================================
// Contact verification
// ============================================================================

func TestRequestVerification_UnknownPurpose(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify/reset/request", nil)
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestVerification_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	env.secrets.On("InvalidateOutstanding", mock.Anything, "p-1", domain.PurposePhone, mock.Anything).Return(int64(0), nil)
	env.secrets.On("Create", mock.Anything, mock.Anything).Return(nil)
	env.notifier.On("Deliver", mock.Anything, domain.ChannelSMS, "+255712345678", mock.Anything).Return(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify/phone/request", nil)
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var ch service.VerificationChallenge
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &ch))
	assert.Equal(t, domain.ChannelSMS, ch.Channel)
	assert.NotContains(t, rec.Body.String(), "+255712345678")
}

func TestConfirmVerification_Success(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	raw, record, err := auth.NewEphemeralIssuer(6).Issue("p-1", domain.PurposeEmail, 10*time.Minute)
	require.NoError(t, err)
	env.secrets.On("GetLatestActive", mock.Anything, "p-1", domain.PurposeEmail).Return(record, nil)
	env.secrets.On("Consume", mock.Anything, record.ID, mock.Anything).Return(true, nil)
	env.principals.On("MarkContactVerified", mock.Anything, "p-1", domain.PurposeEmail).Return(nil)
	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/verify/email/confirm", map[string]string{"code": raw})
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var p map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &p))
	assert.Equal(t, true, p["email_verified"])
}

func TestConfirmVerification_NonNumericCode(t *testing.T) {
	env := newTestEnv(t)
	env.principals.On("GetByID", mock.Anything, "p-1").Return(env.principal(t), nil)
	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/verify/phone/confirm", map[string]string{"code": "12ab56"})
	req.Header.Set("Authorization", env.bearer(t, "p-1"))

	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env.secrets.AssertNotCalled(t, "GetLatestActive", mock.Anything, mock.Anything, mock.Anything)
}

// ============================================================================
// Platform endpoints
// ============================================================================

func TestHealthLive(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprof_DeniedWithoutAllowlist(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
