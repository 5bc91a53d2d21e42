package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           // maximum notifications per window (default 10)
	Window       time.Duration // time window (default 1 minute)
	Enabled      bool          // whether rate limiting is enabled
}

// DefaultRateLimitConfig returns the default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// RateLimiter caps the outbound notification rate using a token bucket
// sized to MaxPerWindow per Window.
type RateLimiter struct {
	limiter *rate.Limiter
	dropped atomic.Int64
	enabled bool
}

// NewRateLimiter creates a rate limiter from the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	interval := config.Window / time.Duration(config.MaxPerWindow)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(interval), config.MaxPerWindow),
		enabled: config.Enabled,
	}
}

// Allow reports whether a notification may be sent now.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		return true
	}
	if r.limiter.Allow() {
		return true
	}
	r.dropped.Add(1)
	return false
}

// Dropped returns the number of notifications dropped so far.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}
