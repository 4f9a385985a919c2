package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
	dropped    atomic.Uint64
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(SessionStartedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case SessionStartedEvent:
		event.Publish(b.dispatcher, e)
	case SessionTerminatedEvent:
		event.Publish(b.dispatcher, e)
	case ProcessRegisteredEvent:
		event.Publish(b.dispatcher, e)
	case ProcessUnregisteredEvent:
		event.Publish(b.dispatcher, e)
	case ProcessKilledEvent:
		event.Publish(b.dispatcher, e)
	case CommandCompletedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case MetricsSummaryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e ProcessKilledEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionTerminatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessRegisteredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessUnregisteredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessKilledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommandCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MetricsSummaryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// OnSessionStarted registers fn for session start notifications.
func (b *Bus) OnSessionStarted(fn func(sessionID string)) func() {
	return event.Subscribe(b.dispatcher, func(e SessionStartedEvent) {
		fn(e.SessionID)
	})
}

// OnSessionTerminated registers fn for session end notifications.
func (b *Bus) OnSessionTerminated(fn func(sessionID string)) func() {
	return event.Subscribe(b.dispatcher, func(e SessionTerminatedEvent) {
		fn(e.SessionID)
	})
}
