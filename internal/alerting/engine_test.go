package alerting

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/agentwatch/internal/gateway"
	"github.com/good-yellow-bee/agentwatch/internal/models"
	"github.com/good-yellow-bee/agentwatch/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	store := storage.NewStore(filepath.Join(t.TempDir(), "alerting-test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return NewEngine(store), store
}

func createRule(t *testing.T, store *storage.Store, name string, typ models.RuleType, mutate func(*models.AlertRule)) *models.AlertRule {
	t.Helper()
	rule := models.NewAlertRule(name, typ, models.SeverityWarning)
	if mutate != nil {
		mutate(rule)
	}
	if err := store.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func seedErrors(t *testing.T, store *storage.Store, agent string, count int, ts time.Time) {
	t.Helper()
	var records []models.ActivityRecord
	for i := 0; i < count; i++ {
		records = append(records, models.ActivityRecord{
			ID:        uuid.New().String(),
			Agent:     agent,
			Type:      models.ActivityError,
			Summary:   "request failed",
			Timestamp: ts,
		})
	}
	if err := store.IngestActivities(context.Background(), records); err != nil {
		t.Fatalf("seed errors: %v", err)
	}
}

func seedCost(t *testing.T, store *storage.Store, agent string, total float64, tokens int64, ts time.Time) {
	t.Helper()
	err := store.IngestCosts(context.Background(), []models.CostRecord{{
		ID:           uuid.New().String(),
		Agent:        agent,
		InputTokens:  tokens,
		OutputTokens: 0,
		TotalCost:    total,
		Timestamp:    ts,
	}})
	if err != nil {
		t.Fatalf("seed cost: %v", err)
	}
}

func TestErrorSpikeBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	createRule(t, store, "error-watch", models.RuleErrorSpike, func(r *models.AlertRule) {
		r.Agent = "billing-bot"
		r.Config.Threshold = 5
		r.Config.WindowMinutes = 15
	})

	seedErrors(t, store, "billing-bot", 4, now.Add(-5*time.Minute))
	result, err := engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Fatalf("fired = %d below threshold, want 0", result.Fired)
	}

	// One more error reaches the threshold exactly; at-threshold fires.
	seedErrors(t, store, "billing-bot", 1, now.Add(-time.Minute))
	result, err = engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d at threshold, want 1", result.Fired)
	}
}

func TestErrorSpikeIgnoresOutsideWindow(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	createRule(t, store, "error-watch", models.RuleErrorSpike, func(r *models.AlertRule) {
		r.Config.Threshold = 3
		r.Config.WindowMinutes = 15
	})

	seedErrors(t, store, "billing-bot", 5, now.Add(-2*time.Hour))
	result, err := engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Errorf("fired = %d from stale errors, want 0", result.Fired)
	}
}

func TestCostSpikeBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	createRule(t, store, "cost-watch", models.RuleCostSpike, func(r *models.AlertRule) {
		r.Agent = "billing-bot"
		r.Config.Threshold = 100 // percent increase
		r.Config.WindowMinutes = 60
		r.Config.BaselineMinutes = 1440
	})

	// Baseline: $23 over 23 hours = $1/hr. Recent: $1.75 in the last hour
	// is a 75% increase, under the 100% threshold.
	seedCost(t, store, "billing-bot", 23.0, 0, now.Add(-2*time.Hour))
	seedCost(t, store, "billing-bot", 1.75, 0, now.Add(-30*time.Minute))

	result, err := engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Fatalf("fired = %d below threshold, want 0", result.Fired)
	}

	// Another $0.25 brings the recent rate to exactly +100%; at-threshold
	// fires.
	seedCost(t, store, "billing-bot", 0.25, 0, now.Add(-20*time.Minute))
	result, err = engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d at threshold, want 1", result.Fired)
	}
}

func TestCostSpikeNoBaselineIsSilent(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	createRule(t, store, "cost-watch", models.RuleCostSpike, func(r *models.AlertRule) {
		r.Config.Threshold = 50
	})

	seedCost(t, store, "billing-bot", 10.0, 0, now.Add(-10*time.Minute))
	result, err := engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Errorf("fired = %d with no baseline, want 0", result.Fired)
	}
}

func TestCooldownSuppression(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	rule := createRule(t, store, "error-watch", models.RuleErrorSpike, func(r *models.AlertRule) {
		r.Agent = "billing-bot"
		r.Config.Threshold = 1
		r.Config.WindowMinutes = 120
		r.CooldownMinutes = 30
	})

	seedErrors(t, store, "billing-bot", 3, now.Add(-time.Minute))

	result, err := engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("first EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("first pass fired = %d, want 1", result.Fired)
	}

	// Condition still true five minutes later: suppressed, no new row.
	result, err = engine.EvaluateAt(context.Background(), now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("second EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Fatalf("second pass fired = %d, want 0", result.Fired)
	}
	alerts, err := store.ListAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 during cooldown", len(alerts))
	}

	rules, err := store.ListRules(context.Background())
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if rules[0].LastTriggered == nil {
		t.Fatal("last triggered not stamped")
	}
	firstStamp := *rules[0].LastTriggered

	// After the cooldown expires the same condition fires again.
	result, err = engine.EvaluateAt(context.Background(), now.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("third EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("post-cooldown fired = %d, want 1", result.Fired)
	}
	rules, _ = store.ListRules(context.Background())
	if !rules[0].LastTriggered.After(firstStamp) {
		t.Error("last triggered not advanced after second fire")
	}
	_ = rule
}

func TestAgentOfflineAndAutoResolve(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	ctx := context.Background()
	rule := createRule(t, store, "offline-watch", models.RuleAgentOffline, func(r *models.AlertRule) {
		r.Config.WindowMinutes = 10
		r.Severity = models.SeverityCritical
	})

	if err := store.TouchAgent(ctx, "billing-bot", now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("touch agent: %v", err)
	}

	result, err := engine.EvaluateAt(ctx, now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d, want 1", result.Fired)
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if agents[0].Status != models.AgentOffline {
		t.Errorf("status = %s, want offline", agents[0].Status)
	}

	alerts, _ := store.ListAlerts(ctx, 10)
	if alerts[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical", alerts[0].Severity)
	}

	// A fresh heartbeat flips the agent back and resolves the open alert.
	if err := store.TouchAgent(ctx, "billing-bot", now); err != nil {
		t.Fatalf("touch agent: %v", err)
	}
	result, err = engine.EvaluateAt(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("recovery EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Errorf("recovery fired = %d, want 0", result.Fired)
	}

	agents, _ = store.ListAgents(ctx)
	if agents[0].Status != models.AgentOnline {
		t.Errorf("status after recovery = %s, want online", agents[0].Status)
	}
	open, err := store.UnresolvedAlerts(ctx, rule.ID, "billing-bot")
	if err != nil {
		t.Fatalf("unresolved alerts: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open alerts after recovery = %d, want 0", len(open))
	}
}

// A heartbeat frame arriving through the gateway router must refresh the
// agent's stored heartbeat, so the next evaluation sees it alive again.
func TestHeartbeatFrameRecoversOfflineAgent(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	ctx := context.Background()
	rule := createRule(t, store, "offline-watch", models.RuleAgentOffline, func(r *models.AlertRule) {
		r.Config.WindowMinutes = 10
	})

	if err := store.TouchAgent(ctx, "billing-bot", now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("touch agent: %v", err)
	}
	result, err := engine.EvaluateAt(ctx, now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d with stale heartbeat, want 1", result.Fired)
	}

	payload, err := json.Marshal(map[string]any{
		"agent": "billing-bot",
		"ts":    now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	router := gateway.NewRouter(store)
	router.HandleFrame(ctx, &gateway.Frame{
		Type:    gateway.FrameEvent,
		Name:    gateway.EventHeartbeat,
		Payload: payload,
	})

	result, err = engine.EvaluateAt(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("recovery EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Errorf("fired = %d after heartbeat frame, want 0", result.Fired)
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if agents[0].Status != models.AgentOnline {
		t.Errorf("status = %s after heartbeat frame, want online", agents[0].Status)
	}
	open, err := store.UnresolvedAlerts(ctx, rule.ID, "billing-bot")
	if err != nil {
		t.Fatalf("unresolved alerts: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open alerts = %d after heartbeat frame, want 0", len(open))
	}
}

func TestBudgetExceededSeverity(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.UpsertBudget(ctx, &models.Budget{
		Name: "monthly-hard", Period: "monthly",
		LimitUSD: 100, CurrentSpend: 120, HardStop: true, Enabled: true,
	}); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}
	if err := store.UpsertBudget(ctx, &models.Budget{
		Name: "monthly-soft", Period: "monthly",
		LimitUSD: 100, CurrentSpend: 120, HardStop: false, Enabled: true,
	}); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}
	createRule(t, store, "budget-watch", models.RuleBudgetExceeded, nil)

	result, err := engine.EvaluateAt(ctx, now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 2 {
		t.Fatalf("fired = %d, want 2", result.Fired)
	}

	alerts, _ := store.ListAlerts(ctx, 10)
	severities := map[models.Severity]int{}
	for _, a := range alerts {
		severities[a.Severity]++
	}
	if severities[models.SeverityCritical] != 1 || severities[models.SeverityWarning] != 1 {
		t.Errorf("severities = %v, want one critical and one warning", severities)
	}
}

func TestBudgetWithinLimitSilent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	if err := store.UpsertBudget(ctx, &models.Budget{
		Name: "monthly", Period: "monthly",
		LimitUSD: 100, CurrentSpend: 40, Enabled: true,
	}); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}
	createRule(t, store, "budget-watch", models.RuleBudgetExceeded, nil)

	result, err := engine.EvaluateAt(ctx, time.Now())
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Errorf("fired = %d, want 0", result.Fired)
	}
}

func TestHighTokenUsageBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	now := time.Now()
	createRule(t, store, "token-watch", models.RuleHighTokenUsage, func(r *models.AlertRule) {
		r.Agent = "billing-bot"
		r.Config.Threshold = 1000
		r.Config.WindowMinutes = 60
	})

	seedCost(t, store, "billing-bot", 0, 999, now.Add(-10*time.Minute))
	result, err := engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Fatalf("fired = %d below threshold, want 0", result.Fired)
	}

	seedCost(t, store, "billing-bot", 0, 1, now.Add(-5*time.Minute))
	result, err = engine.EvaluateAt(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d at threshold, want 1", result.Fired)
	}
}

func TestSessionLoopGuards(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()
	createRule(t, store, "loop-watch", models.RuleSessionLoop, nil)

	sessions := []models.Session{
		// Big but inactive: ignored.
		{Key: "s-done", Agent: "a1", Active: false, MessageCount: 500, TotalTokens: 900000},
		// Active with high messages but modest tokens: ignored.
		{Key: "s-chatty", Agent: "a2", Active: true, MessageCount: 500, TotalTokens: 1000},
		// Exactly at both floors: the guards require exceeding, so ignored.
		{Key: "s-edge", Agent: "a4", Active: true, MessageCount: 100, TotalTokens: 500000},
		// One past both floors: flagged.
		{Key: "s-loop", Agent: "a3", Active: true, MessageCount: 101, TotalTokens: 500001},
	}
	if err := store.IngestSessions(ctx, sessions); err != nil {
		t.Fatalf("ingest sessions: %v", err)
	}

	result, err := engine.EvaluateAt(ctx, now)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d, want 1", result.Fired)
	}
	alerts, _ := store.ListAlerts(ctx, 10)
	if alerts[0].Agent != "a3" {
		t.Errorf("alert agent = %s, want a3", alerts[0].Agent)
	}
}

func TestChannelDisconnect(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	createRule(t, store, "channel-watch", models.RuleChannelDisconnect, func(r *models.AlertRule) {
		r.Config.Channel = "slack"
	})

	// Channel never seen: silent.
	result, err := engine.EvaluateAt(ctx, time.Now())
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Fatalf("fired = %d for unseen channel, want 0", result.Fired)
	}

	// All of the channel's sessions inactive: fires.
	if err := store.IngestSessions(ctx, []models.Session{
		{Key: "s-1", Agent: "a1", Channel: "slack", Active: false},
		{Key: "s-2", Agent: "a1", Channel: "slack", Active: false},
	}); err != nil {
		t.Fatalf("ingest sessions: %v", err)
	}
	result, err = engine.EvaluateAt(ctx, time.Now())
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 1 {
		t.Fatalf("fired = %d, want 1", result.Fired)
	}

	// One session comes back: silent again (cooldown aside).
	if err := store.IngestSessions(ctx, []models.Session{
		{Key: "s-1", Agent: "a1", Channel: "slack", Active: true},
	}); err != nil {
		t.Fatalf("ingest sessions: %v", err)
	}
	result, err = engine.EvaluateAt(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if result.Fired != 0 {
		t.Errorf("fired = %d with live session, want 0", result.Fired)
	}
}

func TestAlertActivityCompanion(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()
	createRule(t, store, "error-watch", models.RuleErrorSpike, func(r *models.AlertRule) {
		r.Agent = "billing-bot"
		r.Config.Threshold = 1
	})
	seedErrors(t, store, "billing-bot", 2, now.Add(-time.Minute))

	if _, err := engine.EvaluateAt(ctx, now); err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}

	count, err := store.CountActivities(ctx, "billing-bot", models.ActivityAlertFired, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("count activities: %v", err)
	}
	if count != 1 {
		t.Errorf("alert_fired activities = %d, want 1", count)
	}
}

func TestNotifierReceivesPersistedAlert(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()
	createRule(t, store, "error-watch", models.RuleErrorSpike, func(r *models.AlertRule) {
		r.Agent = "billing-bot"
		r.Config.Threshold = 1
		r.Channels = []string{"slack"}
	})
	seedErrors(t, store, "billing-bot", 2, now.Add(-time.Minute))

	var notified []*models.Alert
	engine.SetNotifier(func(_ context.Context, alert *models.Alert) {
		notified = append(notified, alert)
	})

	if _, err := engine.EvaluateAt(ctx, now); err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if len(notified) != 1 {
		t.Fatalf("notified = %d, want 1", len(notified))
	}
	if notified[0].Agent != "billing-bot" || len(notified[0].Channels) != 1 {
		t.Errorf("notified alert = %+v", notified[0])
	}
}
