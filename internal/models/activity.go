package models

import "time"

// ActivityType classifies a normalized activity log entry.
type ActivityType string

const (
	ActivityMessageSent     ActivityType = "message_sent"
	ActivityMessageReceived ActivityType = "message_received"
	ActivityToolCall        ActivityType = "tool_call"
	ActivityError           ActivityType = "error"
	ActivityHeartbeat       ActivityType = "heartbeat"
	ActivitySessionStarted  ActivityType = "session_started"
	ActivitySessionEnded    ActivityType = "session_ended"
	ActivityAlertFired      ActivityType = "alert_fired"
)

// ActivityRecord is a normalized log entry derived from gateway events or
// transcript content, used for display and alert evaluation.
type ActivityRecord struct {
	ID         string       `json:"id"`
	Agent      string       `json:"agent"`
	Type       ActivityType `json:"type"`
	Summary    string       `json:"summary"`
	SessionKey string       `json:"session_key,omitempty"`
	Channel    string       `json:"channel,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
