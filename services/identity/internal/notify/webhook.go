package notify

import (
	"context"
	"fmt"
	"net/http"

	apperrors "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/errors"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/httpclient"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
)

const webhookService = "notifier-webhook"

// WebhookNotifier POSTs delivery requests to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client httpclient.Doer
}

// NewWebhookNotifier creates a WebhookNotifier. The client is usually a
// *httpclient.CircuitBreakerClient wrapping a retrying *httpclient.Client.
func NewWebhookNotifier(url string, client httpclient.Doer) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

// Deliver sends one delivery request and maps non-2xx answers to errors.
func (n *WebhookNotifier) Deliver(ctx context.Context, channel domain.Channel, destination string, payload Payload) error {
	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, n.url, deliveryRequest{
		Channel:     channel,
		Destination: destination,
		Payload:     payload,
	}, nil)
	if err != nil {
		return err
	}

	resp, err := n.client.Do(ctx, req)
	if err != nil {
		if httpclient.IsCircuitOpen(err) {
			return fmt.Errorf("deliver via webhook: %w: %w", apperrors.ErrServiceUnavail, err)
		}
		return fmt.Errorf("deliver via webhook: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return httpclient.ParseResponseError(resp, webhookService)
	}
	_ = resp.Body.Close()
	return nil
}
