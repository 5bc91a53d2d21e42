// Package alerting evaluates alert rules over accumulated telemetry on a
// fixed cadence, with per-rule cooldown and auto-resolution semantics.
package alerting

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/agentwatch/internal/metrics"
	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// Store is the query and mutation surface the engine evaluates against.
type Store interface {
	ListEnabledRules(ctx context.Context) ([]*models.AlertRule, error)
	UpdateRuleLastTriggered(ctx context.Context, id string, at time.Time) error

	CreateAlert(ctx context.Context, alert *models.Alert) error
	LatestAlert(ctx context.Context, ruleID, agent string, since time.Time) (*models.Alert, error)
	UnresolvedAlerts(ctx context.Context, ruleID, agent string) ([]*models.Alert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error

	ListAgents(ctx context.Context) ([]*models.Agent, error)
	SetAgentStatus(ctx context.Context, name string, status models.AgentStatus) error
	GetBudget(ctx context.Context, name string) (*models.Budget, error)
	ListBudgets(ctx context.Context) ([]*models.Budget, error)
	CountActivities(ctx context.Context, agent string, typ models.ActivityType, since time.Time) (int64, error)
	SumCost(ctx context.Context, agent string, from, to time.Time) (float64, error)
	SumTokens(ctx context.Context, agent string, since time.Time) (int64, error)
	ActiveSessions(ctx context.Context) ([]*models.Session, error)
	SessionsForChannel(ctx context.Context, channel string) ([]*models.Session, error)

	IngestActivities(ctx context.Context, activities []models.ActivityRecord) error
}

// Result is the per-pass return contract.
type Result struct {
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
}

// candidate is an alert a rule wants to raise this pass, before cooldown.
type candidate struct {
	Agent    string
	Severity models.Severity
	Title    string
	Message  string
	Data     map[string]any
}

// Engine evaluates all active rules against current telemetry.
type Engine struct {
	store   Store
	notify  func(ctx context.Context, alert *models.Alert)
	verbose bool
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// SetNotifier installs the outbound dispatch hook for persisted alerts.
func (e *Engine) SetNotifier(fn func(ctx context.Context, alert *models.Alert)) {
	e.notify = fn
}

// SetVerbose enables verbose logging.
func (e *Engine) SetVerbose(v bool) {
	e.verbose = v
}

// Evaluate runs one evaluation pass at the current time.
func (e *Engine) Evaluate(ctx context.Context) (Result, error) {
	return e.EvaluateAt(ctx, time.Now())
}

// EvaluateAt runs one evaluation pass at a specific time (useful for
// testing). A failure inside a single rule is logged and skipped; the rule
// is retried naturally on the next pass.
func (e *Engine) EvaluateAt(ctx context.Context, now time.Time) (Result, error) {
	var result Result

	rules, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		return result, fmt.Errorf("list rules: %w", err)
	}

	for _, rule := range rules {
		result.Evaluated++
		metrics.RulesEvaluated.Inc()

		candidates, err := e.evaluateRule(ctx, rule, now)
		if err != nil {
			log.Printf("[alerting] evaluate rule %s (%s): %v", rule.Name, rule.Type, err)
			continue
		}

		persisted := 0
		for _, cand := range candidates {
			suppressed, err := e.onCooldown(ctx, rule, cand.Agent, now)
			if err != nil {
				log.Printf("[alerting] cooldown check for rule %s: %v", rule.Name, err)
				continue
			}
			if suppressed {
				// Suppressed entirely: no alert row, no activity entry.
				metrics.AlertsSuppressed.Inc()
				continue
			}

			alert := &models.Alert{
				ID:        uuid.New().String(),
				RuleID:    rule.ID,
				RuleName:  rule.Name,
				Agent:     cand.Agent,
				Severity:  cand.Severity,
				Title:     cand.Title,
				Message:   cand.Message,
				Data:      cand.Data,
				Channels:  rule.Channels,
				CreatedAt: now,
			}
			if err := e.store.CreateAlert(ctx, alert); err != nil {
				log.Printf("[alerting] persist alert for rule %s: %v", rule.Name, err)
				continue
			}
			persisted++
			result.Fired++
			metrics.AlertsFired.WithLabelValues(string(alert.Severity)).Inc()
			e.logf("fired %s: %s", rule.Name, alert.Title)

			if alert.Agent != "" {
				e.appendAlertActivity(ctx, alert, now)
			}
			if e.notify != nil {
				e.notify(ctx, alert)
			}
		}

		if persisted > 0 {
			if err := e.store.UpdateRuleLastTriggered(ctx, rule.ID, now); err != nil {
				log.Printf("[alerting] update last triggered for rule %s: %v", rule.Name, err)
			}
		}
	}

	return result, nil
}

// onCooldown reports whether the rule+agent pair already fired within the
// rule's cooldown window.
func (e *Engine) onCooldown(ctx context.Context, rule *models.AlertRule, agent string, now time.Time) (bool, error) {
	cooldown := rule.Cooldown()
	if cooldown <= 0 {
		return false, nil
	}
	last, err := e.store.LatestAlert(ctx, rule.ID, agent, now.Add(-cooldown))
	if err != nil {
		return false, err
	}
	return last != nil, nil
}

// appendAlertActivity writes the companion activity-log entry for an
// agent-scoped alert.
func (e *Engine) appendAlertActivity(ctx context.Context, alert *models.Alert, now time.Time) {
	rec := models.ActivityRecord{
		ID:        uuid.New().String(),
		Agent:     alert.Agent,
		Type:      models.ActivityAlertFired,
		Summary:   fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
		Timestamp: now,
	}
	if err := e.store.IngestActivities(ctx, []models.ActivityRecord{rec}); err != nil {
		log.Printf("[alerting] append alert activity: %v", err)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.verbose {
		log.Printf("[alerting] "+format, args...)
	}
}
