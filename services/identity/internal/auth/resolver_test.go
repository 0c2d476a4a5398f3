package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

const testCookie = "nuru_session"

type mapLoader struct {
	principals map[string]*domain.Principal
	err        error
	calls      []string
}

func (m *mapLoader) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	m.calls = append(m.calls, id)
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.principals[id]; ok {
		return p, nil
	}
	return nil, apperrors.NotFound("principal", id)
}

func newTestResolver(t *testing.T) (*Resolver, *TokenCodec, *mapLoader) {
	t.Helper()
	codec := newTestCodec(t, newClock())
	loader := &mapLoader{principals: map[string]*domain.Principal{
		"active":   {ID: "active", IsActive: true},
		"inactive": {ID: "inactive", IsActive: false},
	}}
	return NewResolver(codec, loader), codec, loader
}

func TestCredentialsFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		cookie string
		want   Credentials
	}{
		{"nothing", nil, "", Credentials{}},
		{"bearer", []string{"Bearer abc"}, "", BearerCredentials("abc")},
		{"bearer scheme is case-insensitive", []string{"bearer abc"}, "", BearerCredentials("abc")},
		{"bearer wins over cookie", []string{"Bearer abc"}, "active", BearerCredentials("abc")},
		{"malformed header still selects bearer", []string{"Basic dXNlcjpwdw=="}, "active", BearerCredentials("")},
		{"empty header still selects bearer", []string{""}, "active", BearerCredentials("")},
		{"cookie only", nil, "active", SessionCredentials("active")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			for _, h := range tt.header {
				r.Header.Add("Authorization", h)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: testCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, CredentialsFromRequest(r, testCookie))
		})
	}
}

func TestResolver_Bearer(t *testing.T) {
	res, codec, _ := newTestResolver(t)
	token, _, err := codec.IssueAccess("active")
	require.NoError(t, err)

	p, err := res.Resolve(context.Background(), BearerCredentials(token))

	require.NoError(t, err)
	assert.Equal(t, "active", p.ID)
}

func TestResolver_FailedBearerNeverFallsBackToCookie(t *testing.T) {
	res, _, loader := newTestResolver(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	r.AddCookie(&http.Cookie{Name: testCookie, Value: "active"})

	p, err := res.Resolve(context.Background(), CredentialsFromRequest(r, testCookie))

	assert.Nil(t, p)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	assert.Empty(t, loader.calls, "the cookie principal must not be looked up")
}

func TestResolver_ExpiredBearer(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)
	res := NewResolver(codec, &mapLoader{})
	token, _, err := codec.IssueAccess("active")
	require.NoError(t, err)

	clock.Advance(2 * codec.accessTTL)

	_, err = res.Resolve(context.Background(), BearerCredentials(token))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, err, apperrors.ErrExpired)
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(err))
}

func TestResolver_RefreshTokenIsNotABearer(t *testing.T) {
	res, codec, _ := newTestResolver(t)
	refresh, _, err := codec.IssueRefresh("active")
	require.NoError(t, err)

	_, err = res.Resolve(context.Background(), BearerCredentials(refresh))
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestResolver_Session(t *testing.T) {
	res, _, _ := newTestResolver(t)

	p, err := res.Resolve(context.Background(), SessionCredentials("active"))

	require.NoError(t, err)
	assert.Equal(t, "active", p.ID)
}

func TestResolver_InactiveIsForbiddenOnBothPaths(t *testing.T) {
	res, codec, _ := newTestResolver(t)
	token, _, err := codec.IssueAccess("inactive")
	require.NoError(t, err)

	for _, creds := range []Credentials{BearerCredentials(token), SessionCredentials("inactive")} {
		_, err := res.Resolve(context.Background(), creds)
		assert.ErrorIs(t, err, apperrors.ErrForbidden, creds.Kind.String())
		assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatus(err))
	}
}

func TestResolver_Unauthenticated(t *testing.T) {
	res, codec, _ := newTestResolver(t)
	ghost, _, err := codec.IssueAccess("ghost")
	require.NoError(t, err)

	for name, creds := range map[string]Credentials{
		"none":           {},
		"unknown cookie": SessionCredentials("ghost"),
		"unknown bearer": BearerCredentials(ghost),
		"empty bearer":   BearerCredentials(""),
	} {
		_, err := res.Resolve(context.Background(), creds)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized, name)
	}
}

func TestResolver_StorageErrorPropagates(t *testing.T) {
	codec := newTestCodec(t, newClock())
	boom := errors.New("pool exhausted")
	res := NewResolver(codec, &mapLoader{err: boom})

	_, err := res.Resolve(context.Background(), SessionCredentials("active"))

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, apperrors.ErrUnauthorized)
}
