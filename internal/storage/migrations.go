package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS agents (
				name TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'online',
				last_heartbeat DATETIME,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS sessions (
				key TEXT PRIMARY KEY,
				agent TEXT NOT NULL,
				channel TEXT,
				active INTEGER NOT NULL DEFAULT 0,
				message_count INTEGER NOT NULL DEFAULT 0,
				total_tokens INTEGER NOT NULL DEFAULT 0,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS cost_entries (
				id TEXT PRIMARY KEY,
				agent TEXT NOT NULL,
				session_key TEXT,
				provider TEXT,
				model TEXT,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				cache_read_tokens INTEGER NOT NULL DEFAULT 0,
				cache_write_tokens INTEGER NOT NULL DEFAULT 0,
				total_cost REAL NOT NULL DEFAULT 0,
				timestamp DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS activities (
				id TEXT PRIMARY KEY,
				agent TEXT NOT NULL,
				type TEXT NOT NULL,
				summary TEXT NOT NULL,
				session_key TEXT,
				channel TEXT,
				timestamp DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS health_checks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				agent TEXT NOT NULL,
				metrics_json TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				agent TEXT,
				config_json TEXT NOT NULL,
				severity TEXT NOT NULL,
				channels_json TEXT NOT NULL,
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				enabled INTEGER NOT NULL DEFAULT 1,
				last_triggered DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				rule_name TEXT NOT NULL,
				agent TEXT,
				severity TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				data_json TEXT NOT NULL,
				channels_json TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				acknowledged_at DATETIME,
				resolved_at DATETIME
			);

			CREATE TABLE IF NOT EXISTS budgets (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				period TEXT NOT NULL,
				limit_usd REAL NOT NULL,
				current_spend REAL NOT NULL DEFAULT 0,
				hard_stop INTEGER NOT NULL DEFAULT 0,
				enabled INTEGER NOT NULL DEFAULT 1,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_costs_timestamp ON cost_entries(timestamp);
			CREATE INDEX IF NOT EXISTS idx_costs_agent_time ON cost_entries(agent, timestamp);
			CREATE INDEX IF NOT EXISTS idx_activities_agent_time ON activities(agent, timestamp);
			CREATE INDEX IF NOT EXISTS idx_activities_type_time ON activities(type, timestamp);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule_agent ON alerts(rule_id, agent, created_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
			CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(channel);
			CREATE INDEX IF NOT EXISTS idx_rules_enabled ON alert_rules(enabled);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
