package models

import "time"

// Budget is a spend limit read (not owned) by the budget_exceeded rule.
type Budget struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Period       string    `json:"period"` // daily, weekly, monthly
	LimitUSD     float64   `json:"limit_usd"`
	CurrentSpend float64   `json:"current_spend"`
	HardStop     bool      `json:"hard_stop"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Exceeded reports whether current spend has reached the given limit. A
// non-positive override falls back to the budget's own limit.
func (b *Budget) Exceeded(override float64) bool {
	limit := b.LimitUSD
	if override > 0 {
		limit = override
	}
	return limit > 0 && b.CurrentSpend >= limit
}
