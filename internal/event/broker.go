package event

import "sync"

// DefaultSubscriberBuffer is the channel capacity handed to subscribers
// that don't ask for one.
const DefaultSubscriberBuffer = 64

// Broker fans typed events out to subscriber channels. Publish never blocks:
// a subscriber whose buffer is full misses that event. Events reach each
// subscriber in publish order.
type Broker[T any] struct {
	mu      sync.RWMutex
	clients map[chan T]struct{}
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{clients: make(map[chan T]struct{})}
}

// Subscribe registers a new subscriber. buffer <= 0 uses DefaultSubscriberBuffer.
// Subscribing to a closed broker returns an already-closed channel.
func (b *Broker[T]) Subscribe(buffer int) chan T {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Broker[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind, skip this event
		}
	}
}

// ClientCount returns the number of live subscribers.
func (b *Broker[T]) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}
