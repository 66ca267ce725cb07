package events

import "sync"

const defaultQueueSize = 64

// Subscription is a bounded, channel-based view of a Bus.
//
// C is intentionally never closed by the bus so concurrent publishers cannot
// panic; Done is closed on Close instead.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	id     uint64
	ch     chan Event
	filter func(Event) bool

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped uint64
}

// Subscribe returns a subscription receiving every event accepted by filter
// (nil accepts all). queueSize <= 0 selects a default.
func (b *Bus) Subscribe(queueSize int, filter func(Event) bool) *Subscription {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ch := make(chan Event, queueSize)
	s := &Subscription{
		C:      ch,
		bus:    b,
		ch:     ch,
		filter: filter,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	return s
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from its bus (idempotent).
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) offer(e Event) {
	if s.filter != nil && !s.filter(e) {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}
