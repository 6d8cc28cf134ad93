// Package events carries registry facts: durable through the store outbox and
// fanned out in-process on a Bus after commit.
package events

// Bus is a lightweight in-process pub-sub backed by a buffered channel.
// A full buffer drops the fact; the durable copy is the store outbox.
type Bus struct {
	ch chan Fact
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan Fact, buffer)}
}

// Publish attempts to enqueue the fact without blocking.
// Returns true if published, false if the buffer is full.
func (b *Bus) Publish(f Fact) bool {
	if b == nil {
		return false
	}
	select {
	case b.ch <- f:
		return true
	default:
		return false
	}
}

// Subscribe returns a read-only channel for consumers. A nil bus yields a
// channel that never delivers.
func (b *Bus) Subscribe() <-chan Fact {
	if b == nil {
		return nil
	}
	return b.ch
}
