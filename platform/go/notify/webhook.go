package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookAlerter posts alerts as JSON to a chat-ops webhook.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter builds an alerter for the given webhook URL.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Channel  string            `json:"channel"`
	Severity string            `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// SendAlert posts the alert. Non-2xx responses are reported as errors so the
// caller can log them; callers never propagate these errors further.
func (a *WebhookAlerter) SendAlert(ctx context.Context, channel, severity, title, message string, fields map[string]string) error {
	if a.url == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Channel:  channel,
		Severity: severity,
		Title:    title,
		Message:  message,
		Fields:   fields,
	})
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

var _ Alerter = (*WebhookAlerter)(nil)
