// Package notify hands one-time secrets and security alerts to an external
// delivery system. The identity service never talks to SMS, email or
// WhatsApp providers itself.
package notify

import (
	"context"
	"time"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// Message templates understood by the delivery system.
const (
	TemplatePasswordReset       = "password_reset"
	TemplateContactVerification = "contact_verification"
	TemplatePasswordChanged     = "password_changed"
)

// Payload is the channel-independent content of a delivery.
type Payload struct {
	Template    string     `json:"template"`
	PrincipalID string     `json:"principal_id"`
	Secret      string     `json:"secret,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Notifier delivers payload to destination over channel.
type Notifier interface {
	Deliver(ctx context.Context, channel domain.Channel, destination string, payload Payload) error
}

// deliveryRequest is the wire form shared by the Kafka and webhook transports.
type deliveryRequest struct {
	Channel     domain.Channel `json:"channel"`
	Destination string         `json:"destination"`
	Payload     Payload        `json:"payload"`
}
