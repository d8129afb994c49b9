package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Wildcard subscribes to every event name within a scope.
const Wildcard = "*"

// Handler receives an event payload.
type Handler func(ctx context.Context, payload any)

// PanicHandler is called when a handler panics.
type PanicHandler func(err *PanicError)

// Stats contains bus counters.
type Stats struct {
	// EventsPublished is the total number of Publish calls.
	EventsPublished uint64

	// EventsDelivered is the number of handler invocations that returned.
	EventsDelivered uint64

	// HandlerPanics is the number of handler invocations that panicked.
	HandlerPanics uint64

	// ActiveSubscribers is the current number of subscriptions.
	ActiveSubscribers int
}

type key struct {
	scope string
	name  string
}

// Bus routes events to subscriptions by scope and name. It is safe for
// concurrent use.
type Bus struct {
	mu     sync.RWMutex
	byKey  map[key][]*Subscription
	byID   map[uint64]*Subscription
	nextID atomic.Uint64

	logger       *slog.Logger
	panicHandler PanicHandler

	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithPanicHandler sets a callback for recovered handler panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(b *Bus) {
		b.panicHandler = h
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		byKey:  make(map[key][]*Subscription),
		byID:   make(map[uint64]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events named name in scope.
func (b *Bus) Subscribe(scope, name string, h Handler) (*Subscription, error) {
	return b.subscribe(scope, name, h, false)
}

// Once registers h for the next matching event only.
func (b *Bus) Once(scope, name string, h Handler) (*Subscription, error) {
	return b.subscribe(scope, name, h, true)
}

func (b *Bus) subscribe(scope, name string, h Handler, once bool) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if name == "" {
		return nil, ErrInvalidTopic
	}

	sub := &Subscription{
		id:      b.nextID.Add(1),
		scope:   scope,
		name:    name,
		handler: h,
		once:    once,
		bus:     b,
	}

	b.mu.Lock()
	k := key{scope, name}
	b.byKey[k] = append(b.byKey[k], sub)
	b.byID[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes the subscription with the given id. It reports
// whether the subscription existed.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Bus) removeLocked(id uint64) bool {
	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	sub.cancelled.Store(true)

	k := key{sub.scope, sub.name}
	subs := b.byKey[k]
	for i, s := range subs {
		if s.id == id {
			// copy so in-flight Publish snapshots are unaffected
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			subs = next
			break
		}
	}
	if len(subs) == 0 {
		delete(b.byKey, k)
	} else {
		b.byKey[k] = subs
	}
	return true
}

// UnsubscribeScope removes every subscription in scope and returns how
// many were removed.
func (b *Bus) UnsubscribeScope(scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []uint64
	for id, sub := range b.byID {
		if sub.scope == scope {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		b.removeLocked(id)
	}
	return len(ids)
}

// Count returns the number of subscriptions in scope.
func (b *Bus) Count(scope string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.byID {
		if sub.scope == scope {
			n++
		}
	}
	return n
}

// Publish delivers payload to every subscription for name in scope, then
// to the scope's wildcard subscriptions. It returns the number of
// handlers invoked.
func (b *Bus) Publish(ctx context.Context, scope, name string, payload any) int {
	b.published.Add(1)

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.byKey[key{scope, name}])+len(b.byKey[key{scope, Wildcard}]))
	targets = append(targets, b.byKey[key{scope, name}]...)
	if name != Wildcard {
		targets = append(targets, b.byKey[key{scope, Wildcard}]...)
	}
	b.mu.RUnlock()

	n := 0
	for _, sub := range targets {
		if sub.cancelled.Load() {
			continue
		}
		if sub.once {
			// Claim the subscription so concurrent publishers deliver it once.
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			b.Unsubscribe(sub.id)
		}
		b.deliver(ctx, sub, scope, name, payload)
		n++
	}
	return n
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, scope, name string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			perr := &PanicError{SubscriptionID: sub.id, Scope: scope, Name: name, Value: r}
			b.logger.Error("event handler panicked", "scope", scope, "event", name, "subscription", sub.id, "panic", r)
			if b.panicHandler != nil {
				b.panicHandler(perr)
			}
		}
	}()

	sub.handler(ctx, payload)
	b.delivered.Add(1)
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	active := len(b.byID)
	b.mu.RUnlock()

	return Stats{
		EventsPublished:   b.published.Load(),
		EventsDelivered:   b.delivered.Load(),
		HandlerPanics:     b.panics.Load(),
		ActiveSubscribers: active,
	}
}
