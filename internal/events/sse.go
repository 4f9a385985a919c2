package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards each published T into ch until the returned
// function is called. An event that finds ch full is dropped and counted
// in Dropped.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			bus.dropped.Add(1)
		}
	})
}

// Dropped returns how many events channel subscribers had no room for.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
