package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// ListAgents returns all known agents.
func (s *Store) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, status, last_heartbeat, updated_at FROM agents ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent := &models.Agent{}
		var status string
		var heartbeat sql.NullTime
		if err := rows.Scan(&agent.Name, &status, &heartbeat, &agent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agent.Status = models.AgentStatus(status)
		if heartbeat.Valid {
			agent.LastHeartbeat = heartbeat.Time
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// SetAgentStatus flips an agent's online/offline status.
func (s *Store) SetAgentStatus(ctx context.Context, name string, status models.AgentStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, updated_at = ? WHERE name = ?",
		string(status), time.Now(), name,
	)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", name)
	}
	return nil
}

// GetBudget returns a budget by name, or nil when absent.
func (s *Store) GetBudget(ctx context.Context, name string) (*models.Budget, error) {
	budgets, err := s.queryBudgets(ctx,
		"SELECT id, name, period, limit_usd, current_spend, hard_stop, enabled, updated_at FROM budgets WHERE name = ?",
		name)
	if err != nil {
		return nil, err
	}
	if len(budgets) == 0 {
		return nil, nil
	}
	return budgets[0], nil
}

// ListBudgets returns all enabled budgets.
func (s *Store) ListBudgets(ctx context.Context) ([]*models.Budget, error) {
	return s.queryBudgets(ctx,
		"SELECT id, name, period, limit_usd, current_spend, hard_stop, enabled, updated_at FROM budgets WHERE enabled = 1 ORDER BY name")
}

// UpsertBudget creates or replaces a budget definition.
func (s *Store) UpsertBudget(ctx context.Context, b *models.Budget) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (id, name, period, limit_usd, current_spend, hard_stop, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			period = excluded.period,
			limit_usd = excluded.limit_usd,
			current_spend = excluded.current_spend,
			hard_stop = excluded.hard_stop,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, b.ID, b.Name, b.Period, b.LimitUSD, b.CurrentSpend,
		boolToInt(b.HardStop), boolToInt(b.Enabled), time.Now())
	if err != nil {
		return fmt.Errorf("upsert budget %s: %w", b.Name, err)
	}
	return nil
}

func (s *Store) queryBudgets(ctx context.Context, query string, args ...any) ([]*models.Budget, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var budgets []*models.Budget
	for rows.Next() {
		b := &models.Budget{}
		var hardStop, enabled int
		if err := rows.Scan(&b.ID, &b.Name, &b.Period, &b.LimitUSD,
			&b.CurrentSpend, &hardStop, &enabled, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.HardStop = hardStop != 0
		b.Enabled = enabled != 0
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}
