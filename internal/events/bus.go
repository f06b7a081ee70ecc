package events

import (
	"log/slog"
	"sync"
)

// Bus is a channel-based pub/sub event bus.
// It supports topic subscriptions and SubscribeAll for cross-topic consumption.
//
// Delivery is lossless: Publish never blocks and never drops. Each subscriber
// has its own unbounded backlog that a forwarding goroutine drains into the
// subscriber's channel in publish order. A subscriber must keep reading until
// its channel is closed, or its backlog grows without limit.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription // topic -> subscribers
	allSubs []*subscription
	closed  bool

	logger *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:    make(map[string][]*subscription),
		allSubs: make([]*subscription, 0),
		logger:  logger.With("component", "event_bus"),
	}
}

// Subscribe creates a subscription to a specific topic.
// Returns a read-only channel that receives events published to that topic.
// bufSize determines the channel buffer size (defaults to DefaultBufferSize if <= 0).
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}

	s := newSubscription(bufSize)
	b.subs[topic] = append(b.subs[topic], s)
	b.logger.Debug("registered subscriber",
		"topic", topic,
		"subscriber_count", len(b.subs[topic]))

	return s.out
}

// SubscribeAll creates a subscription to every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}

	s := newSubscription(bufSize)
	b.allSubs = append(b.allSubs, s)

	return s.out
}

// Publish sends an event to all subscribers of the given topic and to every
// SubscribeAll channel. It never blocks.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Debug("publish after close ignored",
			"topic", topic,
			"event_type", event.EventType(),
			"task_id", event.TaskID())
		return
	}

	for _, s := range b.subs[topic] {
		s.push(event)
	}
	for _, s := range b.allSubs {
		s.push(event)
	}
}

// Pending returns how many published events are still waiting in subscriber
// backlogs, summed over all subscribers.
func (b *Bus) Pending() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int64
	for _, subs := range b.subs {
		for _, s := range subs {
			n += int64(s.backlog())
		}
	}
	for _, s := range b.allSubs {
		n += int64(s.backlog())
	}
	return n
}

// Close closes the bus. Each subscriber channel is closed once the events
// already published to it have been delivered.
// Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, subs := range b.subs {
		for _, s := range subs {
			s.close()
		}
	}
	for _, s := range b.allSubs {
		s.close()
	}

	b.logger.Debug("event bus closed")
}

// subscription forwards a FIFO backlog into out.
type subscription struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	ready chan struct{} // capacity 1; signals new work or close
	out   chan Event
}

func newSubscription(bufSize int) *subscription {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	s := &subscription{
		ready: make(chan struct{}, 1),
		out:   make(chan Event, bufSize),
	}
	go s.forward()
	return s
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *subscription) backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *subscription) forward() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.mu.Unlock()
			<-s.ready
			s.mu.Lock()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.out <- ev
	}
}

func closedChannel() chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}
