package event

import "sync/atomic"

// Subscription is a registered handler.
type Subscription struct {
	id      uint64
	scope   string
	name    string
	handler Handler
	once    bool
	bus     *Bus

	fired     atomic.Bool
	cancelled atomic.Bool
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() uint64 { return s.id }

// Scope returns the subscription scope.
func (s *Subscription) Scope() string { return s.scope }

// Name returns the subscribed event name.
func (s *Subscription) Name() string { return s.name }

// IsActive reports whether the subscription can still receive events.
func (s *Subscription) IsActive() bool { return !s.cancelled.Load() }

// Cancel removes the subscription from its bus. It reports whether the
// subscription was still registered.
func (s *Subscription) Cancel() bool {
	return s.bus.Unsubscribe(s.id)
}
