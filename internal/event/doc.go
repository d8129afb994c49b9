// Package event provides the scoped event bus shared by the host and its
// plugins.
//
// Subscriptions are keyed by a scope and an event name. Plugins get one
// scope each (their id), so everything a plugin subscribed can be torn
// down in one call when it unloads:
//
//	bus := event.NewBus()
//	sub, err := bus.Subscribe("weather", "refresh", func(ctx context.Context, p any) {
//	    ...
//	})
//	bus.Publish(ctx, "weather", "refresh", payload)
//	bus.UnsubscribeScope("weather")
//
// Delivery is synchronous and in subscription order. A panicking handler
// is recovered and reported; it never stops delivery to the others.
//
// Subscribing to the name Wildcard receives every event published in
// that scope.
package event
