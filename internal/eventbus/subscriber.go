package eventbus

import (
	"sync"

	"goldcore/pkg/domain"
)

// droppedEventType is a synthetic event published to a subscriber's own
// queue to report that older frames were discarded to make room.
const droppedEventType domain.EventType = "dropped"

// droppedPayload is the Data carried by a droppedEventType frame.
type droppedPayload struct {
	Count int `json:"count"`
}

// Subscriber is one SSE connection's outbound frame queue. It is a bounded
// priority queue: critical alerts are never dropped, but once the queue is
// full a non-critical frame makes room by evicting the oldest non-critical
// frame already queued. A dropped frame reports how many were discarded.
type Subscriber struct {
	mu      sync.Mutex
	queue   []domain.Event
	dropped int
	cap     int
	notify  chan struct{}
	closed  bool
}

// newSubscriber builds a Subscriber with the default queue bound.
func newSubscriber() *Subscriber {
	return &Subscriber{
		cap:    QueueSize,
		notify: make(chan struct{}, 1),
	}
}

// isCritical reports whether an event must never be dropped.
func isCritical(evt domain.Event) bool {
	if evt.Type != domain.EventAlert {
		return false
	}
	a, ok := evt.Data.(domain.Alert)
	return ok && a.Severity == domain.SeverityCritical
}

// enqueue appends an event to the subscriber's queue, evicting the oldest
// non-critical frame if the queue is full. Critical events are always kept;
// if the queue is entirely critical frames, the event is appended anyway
// (the queue is allowed to exceed cap rather than drop a critical alert).
func (s *Subscriber) enqueue(evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.queue) >= s.cap {
		evicted := false
		for i, q := range s.queue {
			if !isCritical(q) {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				s.dropped++
				evicted = true
				break
			}
		}
		if !evicted && !isCritical(evt) {
			s.dropped++
			s.signal()
			return
		}
	}

	s.queue = append(s.queue, evt)
	s.signal()
}

// drain removes and returns all currently queued frames, prefixing a
// "dropped" frame if any were discarded since the last drain.
func (s *Subscriber) drain() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 && s.dropped == 0 {
		return nil
	}

	var out []domain.Event
	if s.dropped > 0 {
		out = append(out, domain.Event{Type: droppedEventType, Data: droppedPayload{Count: s.dropped}})
		s.dropped = 0
	}
	out = append(out, s.queue...)
	s.queue = nil
	return out
}

func (s *Subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// close marks the subscriber terminated; further enqueue calls are no-ops.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}
