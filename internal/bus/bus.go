package bus

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("bus closed")

// DefaultQueueSize bounds a subscriber queue when the caller passes 0.
const DefaultQueueSize = 1000

// Subscription is one subscriber's bounded tick queue.
type Subscription struct {
	name    string
	ch      chan domain.Tick
	dropped atomic.Uint64
	closed  bool // guarded by the bus mutex
	bus     *Bus
}

// C returns the receive side of the queue. The channel is closed by
// Close or by Bus.Close; buffered ticks remain readable until drained.
func (s *Subscription) C() <-chan domain.Tick { return s.ch }

// Name returns the subscriber name used in logs.
func (s *Subscription) Name() string { return s.name }

// Dropped returns how many ticks were evicted from this queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from the bus.
func (s *Subscription) Close() { s.bus.Unsubscribe(s) }

// Bus distributes every published tick to all current subscribers in
// publish order. A slow subscriber never blocks the publisher or its
// peers: when its queue is full, the oldest unread tick is evicted.
// One feed source publishes; subscribe and unsubscribe are safe to
// call concurrently with Publish from any goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with its own queue of the given
// capacity. On a closed bus the returned subscription is already closed.
func (b *Bus) Subscribe(name string, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	s := &Subscription{name: name, ch: make(chan domain.Tick, capacity), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes the subscription and closes its channel.
// Calling it twice, or for a subscription of a closed bus, is a no-op.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	delete(b.subs, s)
	s.closed = true
	close(s.ch)
}

// Publish delivers the tick to every current subscriber. A full queue
// has its oldest entry dropped and counted so the publisher never waits.
func (b *Bus) Publish(tick domain.Tick) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	for s := range b.subs {
		select {
		case s.ch <- tick:
			continue
		default:
		}

		// Queue full. Evict the oldest entry; the consumer may grab it
		// first, but either way one slot is free because publishes are
		// serialized and nothing else sends on this channel.
		select {
		case <-s.ch:
			if s.dropped.Add(1) == 1 {
				slog.Warn("Subscriber queue full, dropping oldest ticks", "subscriber", s.name)
			}
		default:
		}
		s.ch <- tick
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closed = true
		close(s.ch)
	}
	b.subs = nil
}
