package gateway

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff implements exponential backoff for reconnect scheduling. Jitter
// is off by default so consecutive delays are non-decreasing up to Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // 0-1 fraction of the delay, 0 = none

	attempt int
	mu      sync.Mutex
}

// NewBackoff creates a Backoff with the collector's reconnect defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: 2.0,
	}
}

// Next returns the next delay and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * b.Jitter
		if delay < 0 {
			delay = float64(b.Initial)
		}
	}

	b.attempt++
	return time.Duration(delay)
}

// Reset returns the backoff to its initial delay. Called only after a
// successful authentication.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns the current attempt number.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
