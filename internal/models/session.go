package models

import "time"

// Session is a gateway conversation session as reported by the session poll.
type Session struct {
	Key          string    `json:"key"`
	Agent        string    `json:"agent"`
	Channel      string    `json:"channel,omitempty"`
	Active       bool      `json:"active"`
	MessageCount int64     `json:"message_count"`
	TotalTokens  int64     `json:"total_tokens"`
	UpdatedAt    time.Time `json:"updated_at"`
}
