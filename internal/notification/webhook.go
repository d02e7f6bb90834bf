package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"PcapSentry/internal/config"
)

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

// NewWebhookNotifier creates a webhook notifier. An empty timeout means 5s.
func NewWebhookNotifier(cfg config.WebhookConfig) (*WebhookNotifier, error) {
	timeout := 5 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook timeout: %w", err)
		}
		timeout = d
	}
	return &WebhookNotifier{url: cfg.URL, client: &http.Client{Timeout: timeout}}, nil
}

// Send posts the notification and expects a 2xx response.
func (n *WebhookNotifier) Send(subject, body string) error {
	data, err := json.Marshal(webhookPayload{
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
