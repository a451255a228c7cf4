// Package bus implements the process-wide Event Bus: a bounded
// multi-producer, single-consumer queue with blocking "peek-and-pop" for
// the single consumer and push for any number of producers, which blocks
// only while the queue is at capacity.
//
// The source's BlockingQueue<Event> is a std::queue guarded by a mutex and
// condition variable; a buffered Go channel already is a thread-safe FIFO
// with blocking receive, so it is the direct idiomatic replacement rather
// than a hand-rolled mutex/condvar pair.
package bus

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/swessel1/overlay/pkg/overlay/event"
)

// Bus is a single process's Event Bus. The control plane's sustained rate is
// low (spec.md §4.1), so a modest fixed capacity is enough to absorb bursts
// (e.g. several concurrent joins) without producers blocking.
type Bus struct {
	events chan event.Event
	depth  prometheus.Gauge
}

// DefaultCapacity is used when New is called with capacity <= 0.
const DefaultCapacity = 256

// New creates an Event Bus with the given capacity. depth may be nil (e.g.
// in tests that don't care about metrics).
func New(capacity int, depth prometheus.Gauge) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		events: make(chan event.Event, capacity),
		depth:  depth,
	}
}

// Push appends an event for the single consumer to drain. Push returns at
// once while the bus has room; on a full-capacity bus it blocks until the
// consumer frees a slot. Callers producing events (peer read loops, the
// listener) are expected to tolerate that backpressure, since it signals
// the control loop has fallen behind.
func (b *Bus) Push(e event.Event) {
	b.events <- e
	if b.depth != nil {
		b.depth.Set(float64(len(b.events)))
	}
}

// Next blocks until an event is available, or ctx is cancelled. Strict FIFO
// across all producers, since every producer writes to the same channel.
func (b *Bus) Next(ctx context.Context) (event.Event, error) {
	select {
	case e := <-b.events:
		if b.depth != nil {
			b.depth.Set(float64(len(b.events)))
		}
		return e, nil
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}

// Depth reports the number of events currently queued, for observability.
func (b *Bus) Depth() int {
	return len(b.events)
}
