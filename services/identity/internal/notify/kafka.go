package notify

import (
	"context"
	"fmt"

	pkgkafka "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/kafka"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// TopicDeliver is consumed by the notification service.
var TopicDeliver = pkgkafka.Topic("notification", "deliver")

const (
	eventTypeDeliver = "notification.deliver"
	aggregateType    = "principal"
	source           = "identity-service"
)

// Publisher is the subset of *pkgkafka.Producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// KafkaNotifier publishes delivery requests for the notification service.
type KafkaNotifier struct {
	publisher Publisher
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(publisher Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

// Deliver publishes one delivery request keyed by the principal id, so all
// deliveries for a principal stay ordered on one partition.
func (n *KafkaNotifier) Deliver(ctx context.Context, channel domain.Channel, destination string, payload Payload) error {
	event, err := pkgkafka.NewEvent(eventTypeDeliver, payload.PrincipalID, aggregateType, source, deliveryRequest{
		Channel:     channel,
		Destination: destination,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("build delivery event: %w", err)
	}
	event.WithContext(ctx).WithMetadata("template", payload.Template)

	if err := n.publisher.Publish(ctx, TopicDeliver, event); err != nil {
		return fmt.Errorf("deliver via kafka: %w", err)
	}
	return nil
}
