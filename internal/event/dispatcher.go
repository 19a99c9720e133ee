// Package event provides the two cross-component notification primitives:
// a bounded worker-pool Dispatcher for handler callbacks and a fan-out
// Broker for typed subscriber channels.
package event

import (
	"sync"
	"sync/atomic"
)

// Dispatcher hands events to a handler on a bounded worker pool.
// With more than one worker, handler invocations are unordered.
type Dispatcher[T any] struct {
	handler func(T)
	queue   chan T
	workers int
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewDispatcher creates a new event dispatcher.
// - workers: number of concurrent workers processing events
// - queueSize: maximum number of events that can be buffered
func NewDispatcher[T any](handler func(T), workers, queueSize int) *Dispatcher[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	return &Dispatcher[T]{
		handler: handler,
		queue:   make(chan T, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool. Safe to call multiple times.
func (d *Dispatcher[T]) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher[T]) worker() {
	defer d.wg.Done()

	for ev := range d.queue {
		if d.handler != nil {
			d.handler(ev)
		}
	}
}

// Dispatch queues an event without blocking. It returns false when the
// queue is full or the dispatcher has been stopped; the event is dropped.
func (d *Dispatcher[T]) Dispatch(ev T) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.dropped.Add(1)
		return false
	}

	select {
	case d.queue <- ev:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Stop drains the queue and waits for the workers. Idempotent.
func (d *Dispatcher[T]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
}

// QueueLength returns the current number of events in the queue.
func (d *Dispatcher[T]) QueueLength() int {
	return len(d.queue)
}

// Dropped returns how many events were discarded because the queue was full
// or the dispatcher was stopped.
func (d *Dispatcher[T]) Dropped() int64 {
	return d.dropped.Load()
}
