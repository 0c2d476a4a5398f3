package domain

import "time"

// Principal is an account that can authenticate. The record is owned by the
// user-management domain; identity only rewrites the password hash and the
// contact verification flags.
type Principal struct {
	ID               string    `json:"id"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	PasswordHash     string    `json:"-"`
	IsActive         bool      `json:"is_active"`
	EmailVerified    bool      `json:"email_verified"`
	PhoneVerified    bool      `json:"phone_verified"`
	IdentityVerified bool      `json:"identity_verified"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Subject returns the id carried in tokens and session cookies.
func (p *Principal) Subject() string {
	return p.ID
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
