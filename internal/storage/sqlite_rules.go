package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

const ruleColumns = `id, name, type, agent, config_json, severity, channels_json,
	cooldown_minutes, enabled, last_triggered, created_at, updated_at`

// CreateRule persists a new alert rule, assigning an id when absent.
func (s *Store) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		INSERT INTO alert_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rule.ID, rule.Name, string(rule.Type), nullString(rule.Agent),
		string(configJSON), string(rule.Severity), string(channelsJSON),
		rule.CooldownMinutes, boolToInt(rule.Enabled), nullTime(rule.LastTriggered),
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// ListRules returns all alert rules.
func (s *Store) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	return s.queryRules(ctx, "SELECT "+ruleColumns+" FROM alert_rules ORDER BY name")
}

// ListEnabledRules returns all active alert rules.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*models.AlertRule, error) {
	return s.queryRules(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE enabled = 1 ORDER BY name")
}

// SetRuleEnabled flips a rule's active flag.
func (s *Store) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alert_rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

// UpdateRuleLastTriggered records that the rule produced an alert.
func (s *Store) UpdateRuleLastTriggered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alert_rules SET last_triggered = ?, updated_at = ? WHERE id = ?",
		at, at, id,
	)
	if err != nil {
		return fmt.Errorf("update last triggered: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(rows *sql.Rows) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var agent sql.NullString
	var configJSON, channelsJSON, ruleType, severity string
	var enabled int
	var lastTriggered sql.NullTime

	err := rows.Scan(
		&rule.ID, &rule.Name, &ruleType, &agent, &configJSON, &severity, &channelsJSON,
		&rule.CooldownMinutes, &enabled, &lastTriggered, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Type = models.RuleType(ruleType)
	rule.Severity = models.ParseSeverity(severity)
	rule.Agent = agent.String
	rule.Enabled = enabled != 0
	rule.LastTriggered = timePtr(lastTriggered)

	if err := json.Unmarshal([]byte(configJSON), &rule.Config); err != nil {
		return nil, fmt.Errorf("unmarshal rule config: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &rule.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal rule channels: %w", err)
	}
	return rule, nil
}
