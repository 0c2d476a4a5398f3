package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/SEWMR-TECHNOLOGIES/nuru-sub001/pkg/kafka"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/config"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/domain"
	"github.com/SEWMR-TECHNOLOGIES/nuru-sub001/services/identity/internal/notify"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig(t *testing.T, environ map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)
	return cfg
}

func TestNewNotifier(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    notify.Notifier
	}{
		{"log", map[string]string{"NOTIFIER": "log"}, &notify.LogNotifier{}},
		{"kafka", map[string]string{"NOTIFIER": "kafka"}, &notify.KafkaNotifier{}},
		{"webhook", map[string]string{
			"NOTIFIER":             "webhook",
			"NOTIFIER_WEBHOOK_URL": "http://notifier.local/deliver",
		}, &notify.WebhookNotifier{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := newNotifier(loadConfig(t, tt.environ), nopPublisher{}, discardLogger())

			require.NoError(t, err)
			assert.IsType(t, tt.want, n)
		})
	}
}

func TestNewNotifier_Unknown(t *testing.T) {
	_, err := newNotifier(&config.Config{Notifier: "carrier-pigeon"}, nopPublisher{}, discardLogger())

	assert.Error(t, err)
}

func TestNewNotifier_WebhookDeliversAtMostOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := loadConfig(t, map[string]string{"NOTIFIER": "webhook", "NOTIFIER_WEBHOOK_URL": srv.URL})
	n, err := newNotifier(cfg, nopPublisher{}, discardLogger())
	require.NoError(t, err)

	err = n.Deliver(context.Background(), domain.ChannelEmail, "amina@example.com", notify.Payload{
		Template:    notify.TemplatePasswordReset,
		PrincipalID: "p-1",
		Secret:      "raw-token",
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a failed delivery is not retried")
}

func TestWebhookClientConfig(t *testing.T) {
	assert.Zero(t, webhookClientConfig().MaxRetries)
}

func TestCleanupStack_RunsInReverse(t *testing.T) {
	var order []string
	var s cleanupStack
	s.push(func() { order = append(order, "tracer") })
	s.push(func() { order = append(order, "pool") })
	s.push(func() { order = append(order, "redis") })

	s.run()

	assert.Equal(t, []string{"redis", "pool", "tracer"}, order)
}
