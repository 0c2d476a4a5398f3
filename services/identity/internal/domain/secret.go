package domain

import (
	"fmt"
	"time"
)

// Purpose scopes an ephemeral secret to the flow that issued it.
type Purpose string

const (
	PurposeReset Purpose = "reset"
	PurposePhone Purpose = "phone"
	PurposeEmail Purpose = "email"
)

// ParseVerificationPurpose accepts the purposes a contact verification can
// target.
func ParseVerificationPurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposePhone, PurposeEmail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown verification purpose %q", s)
	}
}

// Channel is the transport a secret is delivered over.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// EphemeralSecret is a single-use, time-bounded secret. Only the digest of
// the raw value is stored.
type EphemeralSecret struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	Purpose     Purpose    `json:"purpose"`
	SecretHash  string     `json:"-"`
	Channel     Channel    `json:"channel,omitempty"`
	Destination string     `json:"-"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Consumed    bool       `json:"consumed"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ExpiredAt reports whether the secret's validity window has closed at now.
func (s *EphemeralSecret) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MarkConsumed records a successful consumption.
func (s *EphemeralSecret) MarkConsumed(at time.Time) {
	s.Consumed = true
	s.ConsumedAt = &at
}
