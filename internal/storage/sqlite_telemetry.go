package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// IngestSessions upserts the gateway's session inventory.
func (s *Store) IngestSessions(ctx context.Context, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sessions (key, agent, channel, active, message_count, total_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			agent = excluded.agent,
			channel = excluded.channel,
			active = excluded.active,
			message_count = excluded.message_count,
			total_tokens = excluded.total_tokens,
			updated_at = excluded.updated_at
	`
	for _, sess := range sessions {
		updated := sess.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		if _, err := tx.ExecContext(ctx, query,
			sess.Key, sess.Agent, nullString(sess.Channel), boolToInt(sess.Active),
			sess.MessageCount, sess.TotalTokens, updated,
		); err != nil {
			return fmt.Errorf("upsert session %s: %w", sess.Key, err)
		}
	}
	return tx.Commit()
}

// IngestCosts inserts a batch of cost records.
func (s *Store) IngestCosts(ctx context.Context, entries []models.CostRecord) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO cost_entries (id, agent, session_key, provider, model,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			total_cost, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query,
			e.ID, e.Agent, nullString(e.SessionKey), nullString(e.Provider), nullString(e.Model),
			e.InputTokens, e.OutputTokens, e.CacheReadTokens, e.CacheWriteTokens,
			e.TotalCost, e.Timestamp,
		); err != nil {
			return fmt.Errorf("insert cost entry: %w", err)
		}
	}
	return tx.Commit()
}

// IngestActivities inserts a batch of activity records.
func (s *Store) IngestActivities(ctx context.Context, activities []models.ActivityRecord) error {
	if len(activities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO activities (id, agent, type, summary, session_key, channel, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range activities {
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.Agent, string(a.Type), a.Summary,
			nullString(a.SessionKey), nullString(a.Channel), a.Timestamp,
		); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
	}
	return tx.Commit()
}

// RecordHealthCheck stores a health snapshot and refreshes the agent's
// heartbeat.
func (s *Store) RecordHealthCheck(ctx context.Context, agent string, m models.HealthMetrics) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO health_checks (agent, metrics_json, created_at) VALUES (?, ?, ?)",
		agent, string(raw), now,
	); err != nil {
		return fmt.Errorf("insert health check: %w", err)
	}
	return s.TouchAgent(ctx, agent, now)
}

// TouchAgent refreshes an agent's heartbeat, creating the row on first
// sight and flipping it online.
func (s *Store) TouchAgent(ctx context.Context, agent string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (name, status, last_heartbeat, updated_at)
		VALUES (?, 'online', ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at
	`, agent, at, at)
	if err != nil {
		return fmt.Errorf("touch agent %s: %w", agent, err)
	}
	return nil
}

// CountActivities counts activities of one type for an agent since a
// moment. An empty agent counts across all agents.
func (s *Store) CountActivities(ctx context.Context, agent string, typ models.ActivityType, since time.Time) (int64, error) {
	query := "SELECT COUNT(*) FROM activities WHERE type = ? AND timestamp >= ?"
	args := []any{string(typ), since}
	if agent != "" {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return count, nil
}

// SumCost sums total cost in [from, to). An empty agent sums all agents.
func (s *Store) SumCost(ctx context.Context, agent string, from, to time.Time) (float64, error) {
	query := "SELECT COALESCE(SUM(total_cost), 0) FROM cost_entries WHERE timestamp >= ? AND timestamp < ?"
	args := []any{from, to}
	if agent != "" {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	var sum float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	return sum, nil
}

// SumTokens sums all token categories for an agent since a moment.
func (s *Store) SumTokens(ctx context.Context, agent string, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(input_tokens + output_tokens + cache_read_tokens + cache_write_tokens), 0)
		FROM cost_entries WHERE timestamp >= ?
	`
	args := []any{since}
	if agent != "" {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	var sum int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum tokens: %w", err)
	}
	return sum, nil
}

// ActiveSessions returns all sessions currently marked active.
func (s *Store) ActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return s.querySessions(ctx,
		"SELECT key, agent, channel, active, message_count, total_tokens, updated_at FROM sessions WHERE active = 1")
}

// SessionsForChannel returns all sessions ever seen on a channel.
func (s *Store) SessionsForChannel(ctx context.Context, channel string) ([]*models.Session, error) {
	return s.querySessions(ctx,
		"SELECT key, agent, channel, active, message_count, total_tokens, updated_at FROM sessions WHERE channel = ?",
		channel)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess := &models.Session{}
		var channel sql.NullString
		var active int
		if err := rows.Scan(&sess.Key, &sess.Agent, &channel, &active,
			&sess.MessageCount, &sess.TotalTokens, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Channel = channel.String
		sess.Active = active != 0
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
