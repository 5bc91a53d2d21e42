// Package main provides the AgentWatch collector CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the collector configuration.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Transcript TranscriptConfig `yaml:"transcripts"`
	Database   DatabaseConfig   `yaml:"database"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	API        APIConfig        `yaml:"api"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// GatewayConfig contains gateway connection settings.
type GatewayConfig struct {
	URL            string        `yaml:"url"`    // HTTP base URL, e.g. http://127.0.0.1:4100
	WSURL          string        `yaml:"ws_url"` // push connection URL, e.g. ws://127.0.0.1:4100/ws
	Token          string        `yaml:"token"`
	TokenFile      string        `yaml:"token_file"`      // read token from file when set
	PollInterval   time.Duration `yaml:"poll_interval"`   // session poll cadence (default: 30s)
	InitialBackoff time.Duration `yaml:"initial_backoff"` // reconnect backoff start (default: 1s)
	MaxBackoff     time.Duration `yaml:"max_backoff"`     // reconnect backoff cap (default: 2m)
}

// TranscriptConfig contains transcript tailing settings.
type TranscriptConfig struct {
	Root         string        `yaml:"root"`          // agent transcript tree
	ScanInterval time.Duration `yaml:"scan_interval"` // scan cadence (default: 30s)
	Lookback     time.Duration `yaml:"lookback"`      // cost staleness bound (default: 24h)
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database path
}

// AlertingConfig contains alert engine settings.
type AlertingConfig struct {
	EvalInterval time.Duration `yaml:"eval_interval"` // rule evaluation cadence (default: 1m)
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default: :9091
}

// APIConfig contains operations API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default: :8080
}

// NotifyConfig contains notification channel settings.
type NotifyConfig struct {
	Slack   SlackChannelConfig   `yaml:"slack"`
	Discord DiscordChannelConfig `yaml:"discord"`
	Webhook WebhookChannelConfig `yaml:"webhook"`
}

// SlackChannelConfig configures the Slack channel.
type SlackChannelConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordChannelConfig configures the Discord channel.
type DiscordChannelConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Username   string `yaml:"username"`
}

// WebhookChannelConfig configures the generic webhook channel.
type WebhookChannelConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Gateway.PollInterval <= 0 {
		c.Gateway.PollInterval = 30 * time.Second
	}
	if c.Gateway.InitialBackoff <= 0 {
		c.Gateway.InitialBackoff = time.Second
	}
	if c.Gateway.MaxBackoff <= 0 {
		c.Gateway.MaxBackoff = 2 * time.Minute
	}
	if c.Transcript.ScanInterval <= 0 {
		c.Transcript.ScanInterval = 30 * time.Second
	}
	if c.Transcript.Lookback <= 0 {
		c.Transcript.Lookback = 24 * time.Hour
	}
	if c.Database.Path == "" {
		c.Database.Path = "agentwatch.db"
	}
	if c.Alerting.EvalInterval <= 0 {
		c.Alerting.EvalInterval = time.Minute
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9091"
	}
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.WSURL == "" {
		return fmt.Errorf("gateway.ws_url is required")
	}
	if c.Gateway.Token == "" && c.Gateway.TokenFile == "" {
		return fmt.Errorf("gateway.token or gateway.token_file is required")
	}
	if c.Transcript.Root == "" {
		return fmt.Errorf("transcripts.root is required")
	}
	return nil
}

// ResolveToken returns the gateway credential, reading the token file when
// one is configured.
func (c *Config) ResolveToken() (string, error) {
	if c.Gateway.TokenFile != "" {
		raw, err := os.ReadFile(c.Gateway.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", c.Gateway.TokenFile)
		}
		return token, nil
	}
	return c.Gateway.Token, nil
}
