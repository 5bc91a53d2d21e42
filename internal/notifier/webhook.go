package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	URL     string            // endpoint to POST alerts to
	Headers map[string]string // extra headers, e.g. an auth token
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("webhook URL must be http or https")
	}
	return nil
}

// WebhookNotifier POSTs alerts as JSON to an arbitrary endpoint.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a generic webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// webhookPayload is the wire shape sent to the endpoint.
type webhookPayload struct {
	ID        string         `json:"id"`
	Rule      string         `json:"rule"`
	Agent     string         `json:"agent,omitempty"`
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Send posts the alert to the configured endpoint.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	payload := webhookPayload{
		ID:        alert.ID,
		Rule:      alert.RuleName,
		Agent:     alert.Agent,
		Severity:  string(alert.Severity),
		Title:     alert.Title,
		Message:   alert.Message,
		Data:      alert.Data,
		CreatedAt: alert.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// Close is a no-op for the webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
