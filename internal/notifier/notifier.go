// Package notifier provides outbound notification dispatching for alerts.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g. "slack", "webhook").
	Name() string
	// Send sends an alert notification.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a notification is dropped due to rate
// limiting.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher routes alerts to the notifiers named in alert.Channels.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// NewDispatcherWithRateLimit creates a dispatcher with a custom rate limit.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Dispatch sends an alert to every notifier named in alert.Channels. An
// alert with no channels is not sent anywhere. Returns ErrRateLimited when
// the alert is dropped by the rate limiter.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) error {
	if len(alert.Channels) == 0 {
		return nil
	}
	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		return ErrRateLimited
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error
	for _, name := range alert.Channels {
		n, ok := d.notifiers[name]
		if !ok {
			continue
		}
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
