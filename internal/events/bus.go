package events

import (
	"time"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(LogEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case LogEvent:
		event.Publish(b.dispatcher, e)
	case StatusChangeEvent:
		event.Publish(b.dispatcher, e)
	case StatsEvent:
		event.Publish(b.dispatcher, e)
	case InstallLogEvent:
		event.Publish(b.dispatcher, e)
	case InstallCompleteEvent:
		event.Publish(b.dispatcher, e)
	case CacheLogEvent:
		event.Publish(b.dispatcher, e)
	case CacheStatusEvent:
		event.Publish(b.dispatcher, e)
	case BackupEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e StatusChangeEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(LogEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StatusChangeEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StatsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(InstallLogEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(InstallCompleteEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CacheLogEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CacheStatusEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackupEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// SubscribeID subscribes to events of type T that belong to one logical id.
func SubscribeID[T Keyed](bus *Bus, id string, handler func(T)) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		if e.Key() == id {
			handler(e)
		}
	})
}

// Now returns the timestamp format used by all events.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
