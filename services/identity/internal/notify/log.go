package notify

import (
	"context"
	"log/slog"

	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/logger"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

// LogNotifier records deliveries in the service log. It is meant for local
// development; the secret itself is never written.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Deliver logs the delivery and always succeeds.
func (n *LogNotifier) Deliver(ctx context.Context, channel domain.Channel, destination string, payload Payload) error {
	n.logger.InfoContext(ctx, "notification delivered to log",
		slog.String("channel", string(channel)),
		slog.String("destination", logger.MaskDestination(destination)),
		slog.String("template", payload.Template),
		slog.String("principal_id", payload.PrincipalID),
	)
	return nil
}
