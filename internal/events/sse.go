package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SubscribeIDToChannel is SubscribeToChannel filtered to one logical id.
func SubscribeIDToChannel[T Keyed](bus *Bus, id string, ch chan<- any) func() {
	return SubscribeID(bus, id, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
