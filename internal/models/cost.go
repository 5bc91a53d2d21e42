package models

import "time"

// CostRecord is a normalized token-usage and price accounting entry for one
// model call. Records are transient DTOs: they are produced by the event
// router or the transcript tailer and handed straight to ingestion.
type CostRecord struct {
	ID               string    `json:"id"`
	Agent            string    `json:"agent"`
	SessionKey       string    `json:"session_key,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens"`
	TotalCost        float64   `json:"total_cost"`
	Timestamp        time.Time `json:"timestamp"`
}

// TotalTokens returns the summed token count across all categories.
func (c *CostRecord) TotalTokens() int64 {
	return c.InputTokens + c.OutputTokens + c.CacheReadTokens + c.CacheWriteTokens
}
