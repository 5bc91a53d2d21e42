package models

import "time"

// AgentStatus is the last observed liveness state of a gateway agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// Agent is the collector's view of one gateway-hosted agent.
type Agent struct {
	Name          string      `json:"name"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// HealthMetrics is a loose bag of gauge values reported by a health event.
type HealthMetrics map[string]float64
