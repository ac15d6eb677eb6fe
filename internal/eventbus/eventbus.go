// Package eventbus implements the in-process publish/subscribe bus and its
// SSE transport. Every subsystem publishes; none subscribes to another
// subsystem directly — the bus is the one leaf dependency everything else
// may depend on (per the core's dependency-order discipline).
//
// Architecture is grounded on the teacher's internal/api/stream.go Hub: a
// single goroutine owns the subscriber map behind register/unregister
// channels, and each subscriber drains its own bounded queue. The wire
// framing is SSE (http.Flusher-based data: frames) rather than the
// teacher's WebSocket, per this core's HTTP contract.
package eventbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"goldcore/pkg/domain"
)

// MaxSubscribers is the hard cap on concurrent SSE connections. Additional
// connect attempts receive HTTP 503.
const MaxSubscribers = 100

// QueueSize is the default bound on each subscriber's outbound frame queue.
const QueueSize = 256

// HeartbeatInterval is how often a ": heartbeat" comment frame is sent to
// keep idle SSE connections alive through intermediary proxies.
const HeartbeatInterval = 30 * time.Second

// Handler is a local, in-process subscriber callback. Handlers are invoked
// synchronously during Publish and must not block; slow work should be
// offloaded to a worker goroutine by the handler itself.
type Handler func(domain.Event)

// Bus is the central publish/subscribe broadcaster. Its Run loop owns the
// subscriber map; Register/Unregister/Publish only ever touch channels, so
// no mutex guards the map itself.
type Bus struct {
	handlersMu sync.RWMutex
	handlers   map[domain.EventType][]Handler

	subs       map[*Subscriber]struct{}
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan domain.Event

	countMu sync.RWMutex // guards subCount, read by SubscriberCount from any goroutine
	subCount int

	log zerolog.Logger
}

// New builds a Bus. Call Run in a goroutine before publishing.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		handlers:   make(map[domain.EventType][]Handler),
		subs:       make(map[*Subscriber]struct{}),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan domain.Event, QueueSize),
		log:        log.With().Str("component", "eventbus").Logger(),
	}
}

// Run owns the subscriber map and must be started in its own goroutine
// before any Register/Publish call. It returns when done is closed.
func (b *Bus) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			for s := range b.subs {
				s.close()
			}
			return

		case s := <-b.register:
			b.subs[s] = struct{}{}
			b.setCount(len(b.subs))
			b.log.Info().Int("subscribers", len(b.subs)).Msg("sse subscriber connected")

		case s := <-b.unregister:
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				s.close()
				b.setCount(len(b.subs))
				b.log.Info().Int("subscribers", len(b.subs)).Msg("sse subscriber disconnected")
			}

		case evt := <-b.broadcast:
			for s := range b.subs {
				s.enqueue(evt)
			}
		}
	}
}

func (b *Bus) setCount(n int) {
	b.countMu.Lock()
	b.subCount = n
	b.countMu.Unlock()
}

// On registers a local, synchronous handler for a topic.
func (b *Bus) On(topic domain.EventType, h Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish fans an event out to local handlers synchronously, then enqueues
// it to the broadcast channel for Run to fan out to SSE subscribers.
func (b *Bus) Publish(evt domain.Event) {
	b.handlersMu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.Type]...)
	b.handlersMu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}

	select {
	case b.broadcast <- evt:
	default:
		b.log.Warn().Str("type", string(evt.Type)).Msg("broadcast channel full, event delayed")
		b.broadcast <- evt
	}
}

// Alert is a convenience wrapper around Publish for the alert topic.
func (b *Bus) Alert(a domain.Alert) {
	b.Publish(domain.Event{Type: domain.EventAlert, Data: a, Timestamp: time.Now()})
}

// Register attempts to add a new SSE subscriber. Returns false if at
// capacity — the caller should respond 503.
func (b *Bus) Register(s *Subscriber) bool {
	b.countMu.RLock()
	full := b.subCount >= MaxSubscribers
	b.countMu.RUnlock()
	if full {
		return false
	}
	b.register <- s
	return true
}

// Unregister hands a subscriber to Run, which removes it from the map and
// closes it.
func (b *Bus) Unregister(s *Subscriber) {
	b.unregister <- s
}

// SubscriberCount reports the number of live SSE connections.
func (b *Bus) SubscriberCount() int {
	b.countMu.RLock()
	defer b.countMu.RUnlock()
	return b.subCount
}
