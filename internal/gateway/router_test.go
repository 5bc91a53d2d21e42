package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// captureSink records everything the router forwards.
type captureSink struct {
	sessions   []models.Session
	costs      []models.CostRecord
	activities []models.ActivityRecord
	health     map[string]models.HealthMetrics
	touches    map[string]time.Time
}

func newCaptureSink() *captureSink {
	return &captureSink{
		health:  make(map[string]models.HealthMetrics),
		touches: make(map[string]time.Time),
	}
}

func (s *captureSink) IngestSessions(_ context.Context, sessions []models.Session) error {
	s.sessions = append(s.sessions, sessions...)
	return nil
}

func (s *captureSink) IngestCosts(_ context.Context, entries []models.CostRecord) error {
	s.costs = append(s.costs, entries...)
	return nil
}

func (s *captureSink) IngestActivities(_ context.Context, activities []models.ActivityRecord) error {
	s.activities = append(s.activities, activities...)
	return nil
}

func (s *captureSink) RecordHealthCheck(_ context.Context, agent string, m models.HealthMetrics) error {
	s.health[agent] = m
	return nil
}

func (s *captureSink) TouchAgent(_ context.Context, agent string, at time.Time) error {
	s.touches[agent] = at
	return nil
}

func eventFrame(t *testing.T, name string, payload any) *Frame {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &Frame{Type: FrameEvent, Name: name, Payload: raw}
}

func fixedRouter(sink Sink) *Router {
	r := NewRouter(sink)
	r.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return r
}

func TestAgentEventToolStage(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	r.HandleFrame(context.Background(), eventFrame(t, EventAgent, map[string]any{
		"agent":      "billing-bot",
		"stage":      "tool",
		"tool":       "search",
		"sessionKey": "s-1",
	}))

	if len(sink.activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(sink.activities))
	}
	act := sink.activities[0]
	if act.Type != models.ActivityToolCall {
		t.Errorf("type = %s, want tool_call", act.Type)
	}
	if act.Summary != "invoked search" {
		t.Errorf("summary = %q", act.Summary)
	}
	if act.Agent != "billing-bot" || act.SessionKey != "s-1" {
		t.Errorf("activity = %+v", act)
	}
	if len(sink.costs) != 0 {
		t.Errorf("costs = %d, want 0 without usage", len(sink.costs))
	}
}

func TestAgentEventErrorStage(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	r.HandleFrame(context.Background(), eventFrame(t, EventAgent, map[string]any{
		"agentId": "billing-bot",
		"stage":   "error",
		"content": []map[string]any{{"type": "text", "text": "request failed"}},
	}))

	if len(sink.activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(sink.activities))
	}
	if sink.activities[0].Type != models.ActivityError {
		t.Errorf("type = %s, want error", sink.activities[0].Type)
	}
	if sink.activities[0].Summary != "request failed" {
		t.Errorf("summary = %q", sink.activities[0].Summary)
	}
}

func TestAgentEventWithUsageEmitsCost(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	r.HandleFrame(context.Background(), eventFrame(t, EventAgent, map[string]any{
		"agent":      "billing-bot",
		"stage":      "message",
		"sessionKey": "s-1",
		"provider":   "anthropic",
		"model":      "opus",
		"usage": map[string]any{
			"inputTokens":     100,
			"outputTokens":    50,
			"cacheReadTokens": 10,
			"cost":            map[string]any{"total": 0.02},
		},
	}))

	if len(sink.costs) != 1 {
		t.Fatalf("costs = %d, want 1", len(sink.costs))
	}
	cost := sink.costs[0]
	if cost.InputTokens != 100 || cost.OutputTokens != 50 || cost.CacheReadTokens != 10 {
		t.Errorf("tokens = %+v", cost)
	}
	if cost.TotalCost != 0.02 {
		t.Errorf("total cost = %v, want 0.02", cost.TotalCost)
	}
	if cost.Provider != "anthropic" || cost.Model != "opus" {
		t.Errorf("provider/model = %s/%s", cost.Provider, cost.Model)
	}
}

func TestChatDirectionMapping(t *testing.T) {
	cases := []struct {
		direction string
		want      models.ActivityType
	}{
		{"inbound", models.ActivityMessageReceived},
		{"received", models.ActivityMessageReceived},
		{"outbound", models.ActivityMessageSent},
		{"", models.ActivityMessageSent},
	}

	for _, tc := range cases {
		sink := newCaptureSink()
		r := fixedRouter(sink)
		r.HandleFrame(context.Background(), eventFrame(t, EventChat, map[string]any{
			"agent":     "support-bot",
			"direction": tc.direction,
			"text":      "hello",
		}))
		if len(sink.activities) != 1 {
			t.Fatalf("direction %q: activities = %d", tc.direction, len(sink.activities))
		}
		if sink.activities[0].Type != tc.want {
			t.Errorf("direction %q: type = %s, want %s",
				tc.direction, sink.activities[0].Type, tc.want)
		}
	}
}

func TestPresenceStatusMapping(t *testing.T) {
	cases := []struct {
		status string
		want   models.ActivityType
	}{
		{"online", models.ActivitySessionStarted},
		{"joined", models.ActivitySessionStarted},
		{"offline", models.ActivitySessionEnded},
		{"left", models.ActivitySessionEnded},
	}

	for _, tc := range cases {
		sink := newCaptureSink()
		r := fixedRouter(sink)
		r.HandleFrame(context.Background(), eventFrame(t, EventPresence, map[string]any{
			"agent":  "support-bot",
			"status": tc.status,
		}))
		if len(sink.activities) != 1 {
			t.Fatalf("status %q: activities = %d", tc.status, len(sink.activities))
		}
		if sink.activities[0].Type != tc.want {
			t.Errorf("status %q: type = %s, want %s",
				tc.status, sink.activities[0].Type, tc.want)
		}
	}
}

func TestHealthEventRecordsCheckAndHeartbeat(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	r.HandleFrame(context.Background(), eventFrame(t, EventHealth, map[string]any{
		"agent":   "billing-bot",
		"metrics": map[string]float64{"cpu": 0.4, "rss_mb": 120},
	}))

	m, ok := sink.health["billing-bot"]
	if !ok {
		t.Fatal("health check not recorded")
	}
	if m["cpu"] != 0.4 {
		t.Errorf("cpu = %v", m["cpu"])
	}
	if len(sink.activities) != 1 || sink.activities[0].Type != models.ActivityHeartbeat {
		t.Errorf("activities = %+v, want one heartbeat", sink.activities)
	}
}

func TestHeartbeatUnixMillisTimestamp(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	ts := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	r.HandleFrame(context.Background(), eventFrame(t, EventHeartbeat, map[string]any{
		"agent": "billing-bot",
		"ts":    ts.UnixMilli(),
	}))

	if len(sink.activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(sink.activities))
	}
	if !sink.activities[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", sink.activities[0].Timestamp, ts)
	}
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	ts := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
	r.HandleFrame(context.Background(), eventFrame(t, EventHeartbeat, map[string]any{
		"agent": "billing-bot",
		"ts":    ts.Format(time.RFC3339),
	}))

	got, ok := sink.touches["billing-bot"]
	if !ok {
		t.Fatal("heartbeat did not touch the agent")
	}
	if !got.Equal(ts) {
		t.Errorf("touched at %v, want %v", got, ts)
	}
}

func TestPresenceTouchesOnArrivalOnly(t *testing.T) {
	cases := []struct {
		status  string
		touched bool
	}{
		{"online", true},
		{"joined", true},
		{"offline", false},
		{"left", false},
	}

	for _, tc := range cases {
		sink := newCaptureSink()
		r := fixedRouter(sink)
		r.HandleFrame(context.Background(), eventFrame(t, EventPresence, map[string]any{
			"agent":  "support-bot",
			"status": tc.status,
		}))
		_, touched := sink.touches["support-bot"]
		if touched != tc.touched {
			t.Errorf("status %q: touched = %v, want %v", tc.status, touched, tc.touched)
		}
	}
}

func TestNonEventFramesIgnored(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	r.HandleFrame(context.Background(), &Frame{Type: FrameRes, ID: "x", OK: true})
	r.HandleFrame(context.Background(), &Frame{Type: FrameReq, Method: "ping"})
	r.HandleFrame(context.Background(), eventFrame(t, "unknown.event", map[string]any{}))

	if len(sink.activities) != 0 || len(sink.costs) != 0 {
		t.Errorf("sink received records from ignored frames: %+v %+v",
			sink.activities, sink.costs)
	}
}

func TestMissingAgentFallsBackToUnknown(t *testing.T) {
	sink := newCaptureSink()
	r := fixedRouter(sink)

	r.HandleFrame(context.Background(), eventFrame(t, EventChat, map[string]any{
		"text": "orphan message",
	}))

	if len(sink.activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(sink.activities))
	}
	if sink.activities[0].Agent != "unknown" {
		t.Errorf("agent = %q, want unknown", sink.activities[0].Agent)
	}
}
