package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookSender POSTs notices as JSON to a URL. Consecutive failures open a circuit breaker so
// a dead endpoint is not hammered by every sweep.
type WebhookSender struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookSender creates a sender for url.
func NewWebhookSender(url string, timeout time.Duration, logger *slog.Logger) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notify-webhook",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type webhookPayload struct {
	Notice
	Subject string `json:"subject"`
}

func (s *WebhookSender) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(webhookPayload{Notice: n, Subject: n.Subject()})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	_, err = s.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("deliver %s notice: %w", n.Kind, err)
	}
	return nil
}
