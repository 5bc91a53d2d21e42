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

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends alerts to Slack via an incoming webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}
	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends an alert to Slack.
func (s *SlackNotifier) Send(ctx context.Context, alert *models.Alert) error {
	jsonData, err := json.Marshal(s.buildPayload(alert))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for the Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Slack Block Kit message for an alert.
func (s *SlackNotifier) buildPayload(alert *models.Alert) slackMessage {
	emoji := severityEmoji(alert.Severity)
	timestamp := alert.CreatedAt.Format("2006-01-02 15:04:05 MST")

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s AgentWatch Alert: %s", emoji, alert.Title),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(string(alert.Severity))),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Time:*\n%s", timestamp),
				},
			},
		},
		{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Message:*\n%s", alert.Message),
			},
		},
	}

	if alert.Agent != "" {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("Agent: `%s`", alert.Agent)},
			},
		})
	}

	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []slackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("Rule: %s", alert.RuleName)},
		},
	})

	return slackMessage{Blocks: blocks}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityWarning:
		return "\U0001F7E1" // yellow circle
	case models.SeverityInfo:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
