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

const alertColumns = `id, rule_id, rule_name, agent, severity, title, message,
	data_json, channels_json, created_at, acknowledged_at, resolved_at`

// CreateAlert persists a new alert row, assigning an id when absent.
func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	dataJSON, err := alert.EncodeData()
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	channelsJSON, err := json.Marshal(alert.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		alert.ID, alert.RuleID, alert.RuleName, nullString(alert.Agent),
		string(alert.Severity), alert.Title, alert.Message,
		dataJSON, string(channelsJSON), alert.CreatedAt,
		nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// LatestAlert returns the most recent alert for the rule+agent pair created
// at or after since, or nil when none exists. This is the cooldown check.
func (s *Store) LatestAlert(ctx context.Context, ruleID, agent string, since time.Time) (*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE rule_id = ? AND created_at >= ?"
	args := []any{ruleID, since}
	if agent == "" {
		query += " AND agent IS NULL"
	} else {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	alerts, err := s.queryAlerts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return alerts[0], nil
}

// UnresolvedAlerts returns open alerts for a rule+agent pair.
func (s *Store) UnresolvedAlerts(ctx context.Context, ruleID, agent string) ([]*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE rule_id = ? AND resolved_at IS NULL"
	args := []any{ruleID}
	if agent == "" {
		query += " AND agent IS NULL"
	} else {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	return s.queryAlerts(ctx, query, args...)
}

// ListAlerts returns the newest alerts, most recent first.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryAlerts(ctx,
		"SELECT "+alertColumns+" FROM alerts ORDER BY created_at DESC LIMIT ?", limit)
}

// AcknowledgeAlert marks an alert acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	return s.stampAlert(ctx, id, "acknowledged_at", at)
}

// ResolveAlert marks an alert resolved.
func (s *Store) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	return s.stampAlert(ctx, id, "resolved_at", at)
}

func (s *Store) stampAlert(ctx context.Context, id, column string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET "+column+" = ? WHERE id = ? AND "+column+" IS NULL",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found or already stamped: %s", id)
	}
	return nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(rows *sql.Rows) (*models.Alert, error) {
	alert := &models.Alert{}
	var agent sql.NullString
	var severity, dataJSON, channelsJSON string
	var acked, resolved sql.NullTime

	err := rows.Scan(
		&alert.ID, &alert.RuleID, &alert.RuleName, &agent, &severity,
		&alert.Title, &alert.Message, &dataJSON, &channelsJSON,
		&alert.CreatedAt, &acked, &resolved,
	)
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.Agent = agent.String
	alert.Severity = models.Severity(severity)
	alert.AcknowledgedAt = timePtr(acked)
	alert.ResolvedAt = timePtr(resolved)

	if err := json.Unmarshal([]byte(dataJSON), &alert.Data); err != nil {
		return nil, fmt.Errorf("unmarshal alert data: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &alert.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal alert channels: %w", err)
	}
	return alert, nil
}
