package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/agentwatch/internal/metrics"
	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// Sink is the downstream ingestion surface. It is at-least-once: the router
// assumes no idempotence beyond what the tailer's deduplicator supplies.
type Sink interface {
	IngestSessions(ctx context.Context, sessions []models.Session) error
	IngestCosts(ctx context.Context, entries []models.CostRecord) error
	IngestActivities(ctx context.Context, activities []models.ActivityRecord) error
	RecordHealthCheck(ctx context.Context, agent string, m models.HealthMetrics) error
	TouchAgent(ctx context.Context, agent string, at time.Time) error
}

// Router normalizes heterogeneous inbound event payloads into canonical
// cost/activity records and forwards them to ingestion. A failure inside a
// single handler is logged and never aborts processing of later frames.
type Router struct {
	sink    Sink
	now     func() time.Time
	verbose bool
}

// NewRouter creates a Router writing into sink.
func NewRouter(sink Sink) *Router {
	return &Router{sink: sink, now: time.Now}
}

// SetVerbose enables verbose logging.
func (r *Router) SetVerbose(v bool) {
	r.verbose = v
}

// Payload shapes per event kind. The gateway is loose about these: the
// agent name moves between keys depending on kind, and timestamps may be
// absent. Each kind gets one normalization function at this boundary.

type agentEvent struct {
	Agent      string                `json:"agent"`
	AgentID    string                `json:"agentId"`
	Name       string                `json:"name"`
	Stage      string                `json:"stage"` // message, tool, error
	SessionKey string                `json:"sessionKey"`
	Channel    string                `json:"channel"`
	Content    []models.ContentBlock `json:"content"`
	Tool       string                `json:"tool"`
	Provider   string                `json:"provider"`
	Model      string                `json:"model"`
	Usage      *models.Usage         `json:"usage"`
	Timestamp  models.FlexTime       `json:"timestamp"`
}

type healthEvent struct {
	Agent     string          `json:"agent"`
	AgentID   string          `json:"agentId"`
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp models.FlexTime `json:"timestamp"`
}

type heartbeatEvent struct {
	Agent     string          `json:"agent"`
	AgentID   string          `json:"agentId"`
	Timestamp models.FlexTime `json:"ts"`
}

type presenceEvent struct {
	Agent      string          `json:"agent"`
	AgentID    string          `json:"agentId"`
	Status     string          `json:"status"` // online, offline, joined, left
	SessionKey string          `json:"sessionKey"`
	Channel    string          `json:"channel"`
	Timestamp  models.FlexTime `json:"timestamp"`
}

type chatEvent struct {
	Agent      string                `json:"agent"`
	From       string                `json:"from"`
	Direction  string                `json:"direction"` // inbound, outbound
	SessionKey string                `json:"sessionKey"`
	Channel    string                `json:"channel"`
	Content    []models.ContentBlock `json:"content"`
	Text       string                `json:"text"`
	Usage      *models.Usage         `json:"usage"`
	Timestamp  models.FlexTime       `json:"timestamp"`
}

// HandleFrame normalizes one inbound frame. Non-event frames and unknown
// event names are ignored.
func (r *Router) HandleFrame(ctx context.Context, f *Frame) {
	if f.Type != FrameEvent {
		return
	}
	metrics.FramesTotal.WithLabelValues(f.Name).Inc()

	var err error
	switch f.Name {
	case EventAgent:
		err = r.handleAgent(ctx, f.Payload)
	case EventHealth:
		err = r.handleHealth(ctx, f.Payload)
	case EventHeartbeat:
		err = r.handleHeartbeat(ctx, f.Payload)
	case EventPresence:
		err = r.handlePresence(ctx, f.Payload)
	case EventChat:
		err = r.handleChat(ctx, f.Payload)
	default:
		r.logf("ignoring event %q", f.Name)
		return
	}
	if err != nil {
		metrics.FrameErrors.Inc()
		log.Printf("[router] handle %s event: %v", f.Name, err)
	}
}

func (r *Router) handleAgent(ctx context.Context, payload json.RawMessage) error {
	var ev agentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	agent := firstNonEmpty(ev.Agent, ev.AgentID, ev.Name)
	ts := ev.Timestamp.OrNow(r.now())

	activityType := models.ActivityMessageSent
	switch ev.Stage {
	case "tool":
		activityType = models.ActivityToolCall
	case "error":
		activityType = models.ActivityError
	}

	summary := models.Summarize(ev.Content)
	if summary == "" && ev.Tool != "" {
		summary = models.Truncate("invoked " + ev.Tool)
	}
	if summary == "" {
		summary = "agent event"
	}

	if err := r.ingestActivity(ctx, models.ActivityRecord{
		Agent:      agent,
		Type:       activityType,
		Summary:    summary,
		SessionKey: ev.SessionKey,
		Channel:    ev.Channel,
		Timestamp:  ts,
	}); err != nil {
		return err
	}
	return r.ingestUsage(ctx, agent, ev.SessionKey, ev.Provider, ev.Model, ev.Usage, ts)
}

func (r *Router) handleHealth(ctx context.Context, payload json.RawMessage) error {
	var ev healthEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	agent := firstNonEmpty(ev.Agent, ev.AgentID)
	ts := ev.Timestamp.OrNow(r.now())

	if err := r.sink.RecordHealthCheck(ctx, agent, ev.Metrics); err != nil {
		return fmt.Errorf("record health check: %w", err)
	}
	return r.ingestActivity(ctx, models.ActivityRecord{
		Agent:     agent,
		Type:      models.ActivityHeartbeat,
		Summary:   "health check",
		Timestamp: ts,
	})
}

func (r *Router) handleHeartbeat(ctx context.Context, payload json.RawMessage) error {
	var ev heartbeatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	agent := firstNonEmpty(ev.Agent, ev.AgentID)
	ts := ev.Timestamp.OrNow(r.now())

	// The heartbeat is the agent's liveness signal: offline detection reads
	// last_heartbeat, so the frame must refresh it, not just log an activity.
	if err := r.sink.TouchAgent(ctx, agent, ts); err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return r.ingestActivity(ctx, models.ActivityRecord{
		Agent:     agent,
		Type:      models.ActivityHeartbeat,
		Summary:   "heartbeat",
		Timestamp: ts,
	})
}

func (r *Router) handlePresence(ctx context.Context, payload json.RawMessage) error {
	var ev presenceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	agent := firstNonEmpty(ev.Agent, ev.AgentID)
	ts := ev.Timestamp.OrNow(r.now())

	activityType := models.ActivitySessionEnded
	summary := "session ended"
	switch ev.Status {
	case "online", "joined", "started":
		activityType = models.ActivitySessionStarted
		summary = "session started"
		// An agent announcing presence is alive; leaving is not evidence
		// either way, so only the arrival refreshes liveness.
		if err := r.sink.TouchAgent(ctx, agent, ts); err != nil {
			return fmt.Errorf("touch agent: %w", err)
		}
	}

	return r.ingestActivity(ctx, models.ActivityRecord{
		Agent:      agent,
		Type:       activityType,
		Summary:    summary,
		SessionKey: ev.SessionKey,
		Channel:    ev.Channel,
		Timestamp:  ts,
	})
}

func (r *Router) handleChat(ctx context.Context, payload json.RawMessage) error {
	var ev chatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	agent := firstNonEmpty(ev.Agent, ev.From)
	ts := ev.Timestamp.OrNow(r.now())

	activityType := models.ActivityMessageSent
	switch ev.Direction {
	case "inbound", "received":
		activityType = models.ActivityMessageReceived
	}

	summary := models.Summarize(ev.Content)
	if summary == "" {
		summary = models.Truncate(ev.Text)
	}
	if summary == "" {
		summary = "chat message"
	}

	if err := r.ingestActivity(ctx, models.ActivityRecord{
		Agent:      agent,
		Type:       activityType,
		Summary:    summary,
		SessionKey: ev.SessionKey,
		Channel:    ev.Channel,
		Timestamp:  ts,
	}); err != nil {
		return err
	}
	return r.ingestUsage(ctx, agent, ev.SessionKey, "", "", ev.Usage, ts)
}

func (r *Router) ingestActivity(ctx context.Context, rec models.ActivityRecord) error {
	rec.ID = uuid.New().String()
	if err := r.sink.IngestActivities(ctx, []models.ActivityRecord{rec}); err != nil {
		return fmt.Errorf("ingest activity: %w", err)
	}
	metrics.ActivitiesIngested.Inc()
	return nil
}

// ingestUsage emits a cost record only when the event carried a usage
// object.
func (r *Router) ingestUsage(ctx context.Context, agent, sessionKey, provider, model string, usage *models.Usage, ts time.Time) error {
	if usage == nil {
		return nil
	}
	rec := models.CostRecord{
		ID:               uuid.New().String(),
		Agent:            agent,
		SessionKey:       sessionKey,
		Provider:         provider,
		Model:            model,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		Timestamp:        ts,
	}
	if usage.Cost != nil {
		rec.TotalCost = usage.Cost.Total
	}
	if err := r.sink.IngestCosts(ctx, []models.CostRecord{rec}); err != nil {
		return fmt.Errorf("ingest cost: %w", err)
	}
	metrics.CostRecordsIngested.Inc()
	return nil
}

func (r *Router) logf(format string, args ...any) {
	if r.verbose {
		log.Printf("[router] "+format, args...)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown"
}
