package events

import "sync"

// defaultCapacity bounds the progress-event backlog a slow subscriber can
// accumulate before older progress events are dropped in favor of newer
// ones. Terminal events always get through regardless of capacity.
const defaultCapacity = 64

// Bus fans out Events to a single subscriber channel. Progress events
// (Terminal() == false) are dropped-oldest under backpressure: if the
// channel is full, the bus discards the oldest buffered event to make room
// rather than blocking the publisher. Terminal events are never dropped;
// Publish blocks until the terminal event is delivered.
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewBus creates a Bus with the default backlog capacity.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, defaultCapacity)}
}

// Subscribe returns the channel subscribers read from. There is exactly one
// subscriber channel per Bus; fan-out to multiple readers is the caller's
// responsibility.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// Publish delivers ev to the subscriber channel. Non-terminal events are
// dropped-oldest on backpressure; terminal events block until delivered
// (the bus is closed immediately after a terminal event in practice, so
// this never blocks indefinitely in steady-state use).
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if ev.Terminal() {
		b.ch <- ev
		return
	}

	for {
		select {
		case b.ch <- ev:
			return
		default:
			select {
			case <-b.ch:
			default:
			}
		}
	}
}

// Close closes the subscriber channel. No further Publish calls will be
// delivered. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
