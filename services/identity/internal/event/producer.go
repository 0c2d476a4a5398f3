package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/kafka"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// Kafka topics for identity domain events.
var (
	TopicPasswordChanged = pkgkafka.Topic("identity", "password_changed")
	TopicPasswordReset   = pkgkafka.Topic("identity", "password_reset")
	TopicContactVerified = pkgkafka.Topic("identity", "contact_verified")
)

// Aggregate type constant.
const AggregateTypePrincipal = "principal"

// Source identifier for events originating from the identity service.
const SourceIdentityService = "identity-service"

// PasswordChangedData is the payload for identity.password_changed and
// identity.password_reset events.
type PasswordChangedData struct {
	PrincipalID string    `json:"principal_id"`
	ChangedAt   time.Time `json:"changed_at"`
}

// ContactVerifiedData is the payload for an identity.contact_verified event.
type ContactVerifiedData struct {
	PrincipalID string         `json:"principal_id"`
	Purpose     domain.Purpose `json:"purpose"`
	VerifiedAt  time.Time      `json:"verified_at"`
}

// Publisher is the subset of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes identity domain events to Kafka. A Producer with no
// publisher drops every event, which is how the service runs without Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the identity service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishPasswordChanged publishes an identity.password_changed event.
func (p *Producer) PublishPasswordChanged(ctx context.Context, principalID string, at time.Time) error {
	return p.publish(ctx, TopicPasswordChanged, principalID, PasswordChangedData{
		PrincipalID: principalID,
		ChangedAt:   at.UTC(),
	})
}

// PublishPasswordReset publishes an identity.password_reset event.
func (p *Producer) PublishPasswordReset(ctx context.Context, principalID string, at time.Time) error {
	return p.publish(ctx, TopicPasswordReset, principalID, PasswordChangedData{
		PrincipalID: principalID,
		ChangedAt:   at.UTC(),
	})
}

// PublishContactVerified publishes an identity.contact_verified event.
func (p *Producer) PublishContactVerified(ctx context.Context, principalID string, purpose domain.Purpose, at time.Time) error {
	return p.publish(ctx, TopicContactVerified, principalID, ContactVerifiedData{
		PrincipalID: principalID,
		Purpose:     purpose,
		VerifiedAt:  at.UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, principalID string, data any) error {
	if p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic, principalID, AggregateTypePrincipal, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithContext(ctx)

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published identity event",
		slog.String("topic", topic),
		slog.String("principal_id", principalID),
	)
	return nil
}
