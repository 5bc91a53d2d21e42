package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

const (
	defaultOfflineWindow  = 10 * time.Minute
	defaultErrorWindow    = 15 * time.Minute
	defaultErrorThreshold = 5
	defaultSpikeWindow    = 60 * time.Minute
	defaultSpikeBaseline  = 24 * time.Hour
	defaultTokenWindow    = 60 * time.Minute

	// Fixed runaway-session guards for session_loop.
	loopMessageFloor = 100
	loopTokenFloor   = 500000
)

// evaluateRule dispatches on rule type and returns the alerts the rule wants
// to raise this pass, before cooldown filtering.
func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, now time.Time) ([]candidate, error) {
	switch rule.Type {
	case models.RuleBudgetExceeded:
		return e.evalBudgetExceeded(ctx, rule)
	case models.RuleAgentOffline:
		return e.evalAgentOffline(ctx, rule, now)
	case models.RuleErrorSpike:
		return e.evalErrorSpike(ctx, rule, now)
	case models.RuleCostSpike:
		return e.evalCostSpike(ctx, rule, now)
	case models.RuleHighTokenUsage:
		return e.evalHighTokenUsage(ctx, rule, now)
	case models.RuleSessionLoop:
		return e.evalSessionLoop(ctx, rule)
	case models.RuleChannelDisconnect:
		return e.evalChannelDisconnect(ctx, rule)
	case models.RuleCustomThreshold:
		return e.evalCustomThreshold(ctx, rule, now)
	default:
		return nil, fmt.Errorf("unknown rule type: %s", rule.Type)
	}
}

func (e *Engine) evalBudgetExceeded(ctx context.Context, rule *models.AlertRule) ([]candidate, error) {
	var budgets []*models.Budget
	if rule.Config.Budget != "" {
		b, err := e.store.GetBudget(ctx, rule.Config.Budget)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("budget not found: %s", rule.Config.Budget)
		}
		budgets = append(budgets, b)
	} else {
		all, err := e.store.ListBudgets(ctx)
		if err != nil {
			return nil, err
		}
		budgets = all
	}

	var out []candidate
	for _, b := range budgets {
		if !b.Exceeded(rule.Config.Threshold) {
			continue
		}
		severity := models.SeverityWarning
		if b.HardStop {
			severity = models.SeverityCritical
		}
		out = append(out, candidate{
			Severity: severity,
			Title:    fmt.Sprintf("Budget %s exceeded", b.Name),
			Message: fmt.Sprintf("Budget %s (%s) has spent $%.2f of its $%.2f limit.",
				b.Name, b.Period, b.CurrentSpend, b.LimitUSD),
			Data: map[string]any{
				"budget":    b.Name,
				"period":    b.Period,
				"spend":     b.CurrentSpend,
				"limit":     b.LimitUSD,
				"hard_stop": b.HardStop,
			},
		})
	}
	return out, nil
}

// evalAgentOffline raises for agents whose heartbeat went stale and flips
// their stored status; agents heard from recently are flipped back online and
// any open alerts for them auto-resolve.
func (e *Engine) evalAgentOffline(ctx context.Context, rule *models.AlertRule, now time.Time) ([]candidate, error) {
	window := rule.Config.Window()
	if window <= 0 {
		window = defaultOfflineWindow
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, agent := range agents {
		if rule.Agent != "" && rule.Agent != agent.Name {
			continue
		}
		// Never seen a heartbeat; nothing to judge yet.
		if agent.LastHeartbeat.IsZero() {
			continue
		}

		stale := now.Sub(agent.LastHeartbeat) > window
		if stale {
			if agent.Status != models.AgentOffline {
				if err := e.store.SetAgentStatus(ctx, agent.Name, models.AgentOffline); err != nil {
					return nil, err
				}
			}
			out = append(out, candidate{
				Agent:    agent.Name,
				Severity: rule.Severity,
				Title:    fmt.Sprintf("Agent %s is offline", agent.Name),
				Message: fmt.Sprintf("No heartbeat from %s since %s (threshold %s).",
					agent.Name, agent.LastHeartbeat.Format(time.RFC3339), window),
				Data: map[string]any{
					"agent":          agent.Name,
					"last_heartbeat": agent.LastHeartbeat.Format(time.RFC3339),
					"window_minutes": int(window.Minutes()),
				},
			})
			continue
		}

		// Heartbeat is fresh again: recover state and close open alerts.
		if agent.Status == models.AgentOffline {
			if err := e.store.SetAgentStatus(ctx, agent.Name, models.AgentOnline); err != nil {
				return nil, err
			}
		}
		open, err := e.store.UnresolvedAlerts(ctx, rule.ID, agent.Name)
		if err != nil {
			return nil, err
		}
		for _, alert := range open {
			if err := e.store.ResolveAlert(ctx, alert.ID, now); err != nil {
				return nil, err
			}
			e.logf("auto-resolved %s for %s", rule.Name, agent.Name)
		}
	}
	return out, nil
}

func (e *Engine) evalErrorSpike(ctx context.Context, rule *models.AlertRule, now time.Time) ([]candidate, error) {
	window := rule.Config.Window()
	if window <= 0 {
		window = defaultErrorWindow
	}
	threshold := rule.Config.Threshold
	if threshold <= 0 {
		threshold = defaultErrorThreshold
	}

	count, err := e.store.CountActivities(ctx, rule.Agent, models.ActivityError, now.Add(-window))
	if err != nil {
		return nil, err
	}
	if float64(count) < threshold {
		return nil, nil
	}

	scope := rule.Agent
	if scope == "" {
		scope = "all agents"
	}
	return []candidate{{
		Agent:    rule.Agent,
		Severity: rule.Severity,
		Title:    fmt.Sprintf("Error spike: %d errors in %s", count, window),
		Message: fmt.Sprintf("%d error activities recorded for %s in the last %s (threshold %.0f).",
			count, scope, window, threshold),
		Data: map[string]any{
			"count":          count,
			"threshold":      threshold,
			"window_minutes": int(window.Minutes()),
		},
	}}, nil
}

// evalCostSpike compares the recent spend rate against a longer historical
// baseline rate and fires when the increase meets the configured percentage.
func (e *Engine) evalCostSpike(ctx context.Context, rule *models.AlertRule, now time.Time) ([]candidate, error) {
	window := rule.Config.Window()
	if window <= 0 {
		window = defaultSpikeWindow
	}
	baseline := rule.Config.Baseline()
	if baseline <= window {
		baseline = defaultSpikeBaseline
	}

	recent, err := e.store.SumCost(ctx, rule.Agent, now.Add(-window), now)
	if err != nil {
		return nil, err
	}
	base, err := e.store.SumCost(ctx, rule.Agent, now.Add(-baseline), now.Add(-window))
	if err != nil {
		return nil, err
	}

	recentRate := recent / window.Hours()
	baseRate := base / (baseline - window).Hours()
	if baseRate <= 0 {
		// No history to compare against.
		return nil, nil
	}

	pct := (recentRate - baseRate) / baseRate * 100
	if pct < rule.Config.Threshold {
		return nil, nil
	}

	return []candidate{{
		Agent:    rule.Agent,
		Severity: rule.Severity,
		Title:    fmt.Sprintf("Cost spike: spend rate up %.0f%%", pct),
		Message: fmt.Sprintf("Spend rate is $%.4f/hr over the last %s vs a $%.4f/hr baseline (+%.0f%%, threshold %.0f%%).",
			recentRate, window, baseRate, pct, rule.Config.Threshold),
		Data: map[string]any{
			"recent_cost":      recent,
			"recent_rate_hr":   recentRate,
			"baseline_rate_hr": baseRate,
			"increase_pct":     pct,
			"threshold_pct":    rule.Config.Threshold,
		},
	}}, nil
}

func (e *Engine) evalHighTokenUsage(ctx context.Context, rule *models.AlertRule, now time.Time) ([]candidate, error) {
	window := rule.Config.Window()
	if window <= 0 {
		window = defaultTokenWindow
	}

	tokens, err := e.store.SumTokens(ctx, rule.Agent, now.Add(-window))
	if err != nil {
		return nil, err
	}
	if float64(tokens) < rule.Config.Threshold {
		return nil, nil
	}

	return []candidate{{
		Agent:    rule.Agent,
		Severity: rule.Severity,
		Title:    fmt.Sprintf("High token usage: %d tokens in %s", tokens, window),
		Message: fmt.Sprintf("%d tokens consumed in the last %s (threshold %.0f).",
			tokens, window, rule.Config.Threshold),
		Data: map[string]any{
			"tokens":         tokens,
			"threshold":      rule.Config.Threshold,
			"window_minutes": int(window.Minutes()),
		},
	}}, nil
}

// evalSessionLoop flags sessions that look like runaway loops: still active
// with both an outsized message count and outsized token usage.
func (e *Engine) evalSessionLoop(ctx context.Context, rule *models.AlertRule) ([]candidate, error) {
	sessions, err := e.store.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, sess := range sessions {
		if rule.Agent != "" && rule.Agent != sess.Agent {
			continue
		}
		if sess.MessageCount <= loopMessageFloor || sess.TotalTokens <= loopTokenFloor {
			continue
		}
		out = append(out, candidate{
			Agent:    sess.Agent,
			Severity: rule.Severity,
			Title:    fmt.Sprintf("Possible session loop: %s", sess.Key),
			Message: fmt.Sprintf("Session %s on %s has %d messages and %d tokens while still active.",
				sess.Key, sess.Agent, sess.MessageCount, sess.TotalTokens),
			Data: map[string]any{
				"session_key":   sess.Key,
				"message_count": sess.MessageCount,
				"total_tokens":  sess.TotalTokens,
			},
		})
	}
	return out, nil
}

// evalChannelDisconnect fires when a channel that used to have sessions no
// longer has any active ones.
func (e *Engine) evalChannelDisconnect(ctx context.Context, rule *models.AlertRule) ([]candidate, error) {
	channel := rule.Config.Channel
	if channel == "" {
		return nil, fmt.Errorf("channel_disconnect rule requires a channel")
	}

	sessions, err := e.store.SessionsForChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		// Channel never seen; nothing to disconnect from.
		return nil, nil
	}
	for _, sess := range sessions {
		if sess.Active {
			return nil, nil
		}
	}

	return []candidate{{
		Severity: rule.Severity,
		Title:    fmt.Sprintf("Channel %s disconnected", channel),
		Message: fmt.Sprintf("Channel %s has %d known sessions but none are active.",
			channel, len(sessions)),
		Data: map[string]any{
			"channel":        channel,
			"known_sessions": len(sessions),
		},
	}}, nil
}

// evalCustomThreshold checks the trailing-hour spend rate against a fixed
// dollar threshold.
func (e *Engine) evalCustomThreshold(ctx context.Context, rule *models.AlertRule, now time.Time) ([]candidate, error) {
	spend, err := e.store.SumCost(ctx, rule.Agent, now.Add(-time.Hour), now)
	if err != nil {
		return nil, err
	}
	if spend < rule.Config.Threshold {
		return nil, nil
	}

	scope := rule.Agent
	if scope == "" {
		scope = "all agents"
	}
	return []candidate{{
		Agent:    rule.Agent,
		Severity: rule.Severity,
		Title:    fmt.Sprintf("Hourly spend $%.2f over threshold", spend),
		Message: fmt.Sprintf("Spend for %s hit $%.4f in the last hour (threshold $%.2f).",
			scope, spend, rule.Config.Threshold),
		Data: map[string]any{
			"spend_hour": spend,
			"threshold":  rule.Config.Threshold,
			"metric":     rule.Config.Metric,
		},
	}}, nil
}
