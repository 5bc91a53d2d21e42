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

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	WebhookURL string // Discord webhook URL
	Username   string // optional display name override
}

// Validate validates the Discord configuration.
func (c *DiscordConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// DiscordNotifier sends alerts to Discord via webhook embeds.
type DiscordNotifier struct {
	config     DiscordConfig
	httpClient *http.Client
}

// NewDiscordNotifier creates a new Discord notifier.
func NewDiscordNotifier(config DiscordConfig) (*DiscordNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discord config: %w", err)
	}
	return &DiscordNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "discord".
func (d *DiscordNotifier) Name() string {
	return "discord"
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Send sends an alert to Discord.
func (d *DiscordNotifier) Send(ctx context.Context, alert *models.Alert) error {
	embed := discordEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       severityColor(alert.Severity),
		Timestamp:   alert.CreatedAt.Format(time.RFC3339),
		Fields: []discordField{
			{Name: "Severity", Value: strings.ToUpper(string(alert.Severity)), Inline: true},
			{Name: "Rule", Value: alert.RuleName, Inline: true},
		},
	}
	if alert.Agent != "" {
		embed.Fields = append(embed.Fields, discordField{
			Name: "Agent", Value: alert.Agent, Inline: true,
		})
	}

	body, err := json.Marshal(discordMessage{
		Username: d.config.Username,
		Embeds:   []discordEmbed{embed},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord API error: status %d, body: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// Close is a no-op for the Discord notifier.
func (d *DiscordNotifier) Close() error {
	return nil
}

// severityColor maps severity to an embed color.
func severityColor(severity models.Severity) int {
	switch severity {
	case models.SeverityCritical:
		return 0xE74C3C // red
	case models.SeverityWarning:
		return 0xF1C40F // yellow
	case models.SeverityInfo:
		return 0x2ECC71 // green
	default:
		return 0x95A5A6 // grey
	}
}
