package models

import (
	"encoding/json"
	"time"
)

// RuleType identifies an alert rule evaluation strategy.
type RuleType string

const (
	RuleBudgetExceeded    RuleType = "budget_exceeded"
	RuleAgentOffline      RuleType = "agent_offline"
	RuleErrorSpike        RuleType = "error_spike"
	RuleCostSpike         RuleType = "cost_spike"
	RuleHighTokenUsage    RuleType = "high_token_usage"
	RuleSessionLoop       RuleType = "session_loop"
	RuleChannelDisconnect RuleType = "channel_disconnect"
	RuleCustomThreshold   RuleType = "custom_threshold"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RuleConfig holds the kind-specific knobs of an alert rule. Unused fields
// are zero for rule types that do not need them.
type RuleConfig struct {
	Threshold       float64 `json:"threshold,omitempty"`        // dollars, count, tokens or percent depending on type
	WindowMinutes   int     `json:"window_minutes,omitempty"`   // evaluation window
	BaselineMinutes int     `json:"baseline_minutes,omitempty"` // historical baseline for cost_spike
	Budget          string  `json:"budget,omitempty"`           // budget name for budget_exceeded
	Channel         string  `json:"channel,omitempty"`          // channel name for channel_disconnect
	Metric          string  `json:"metric,omitempty"`           // metric name for custom_threshold
}

// Window returns the configured evaluation window as a duration.
func (c RuleConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Baseline returns the configured baseline span as a duration.
func (c RuleConfig) Baseline() time.Duration {
	return time.Duration(c.BaselineMinutes) * time.Minute
}

// AlertRule is a persistent alert configuration. The evaluation engine
// mutates LastTriggered; everything else is owned by user actions.
type AlertRule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            RuleType   `json:"type"`
	Agent           string     `json:"agent,omitempty"` // empty = all agents
	Config          RuleConfig `json:"config"`
	Severity        Severity   `json:"severity"`
	Channels        []string   `json:"channels"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	Enabled         bool       `json:"enabled"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Cooldown returns the minimum elapsed time between two alerts for the same
// rule+agent pair.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// NewAlertRule creates an AlertRule with initialized timestamps.
func NewAlertRule(name string, ruleType RuleType, severity Severity) *AlertRule {
	now := time.Now()
	return &AlertRule{
		Name:      name,
		Type:      ruleType,
		Severity:  severity,
		Enabled:   true,
		Channels:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Alert is a persisted alert row. Created only by the evaluation engine;
// mutated only by acknowledge/resolve actions.
type Alert struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	Agent          string         `json:"agent,omitempty"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	Channels       []string       `json:"channels"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// EncodeData marshals the structured data payload for storage.
func (a *Alert) EncodeData() (string, error) {
	if a.Data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(a.Data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseSeverity converts a string to Severity, defaulting to warning.
func ParseSeverity(s string) Severity {
	switch s {
	case "info":
		return SeverityInfo
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityWarning
	}
}
