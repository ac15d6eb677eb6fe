package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/pkg/domain"
)

func newTestBus(t *testing.T) (*Bus, func()) {
	t.Helper()
	b := New(zerolog.Nop())
	done := make(chan struct{})
	go b.Run(done)
	return b, func() { close(done) }
}

func TestPublishInvokesLocalHandlers(t *testing.T) {
	t.Parallel()
	b, stop := newTestBus(t)
	defer stop()

	var mu sync.Mutex
	var got domain.Event
	wait := make(chan struct{})
	b.On(domain.EventKillSwitchChanged, func(evt domain.Event) {
		mu.Lock()
		got = evt
		mu.Unlock()
		close(wait)
	})

	b.Publish(domain.Event{Type: domain.EventKillSwitchChanged, Data: "halted"})

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.EventKillSwitchChanged, got.Type)
	assert.Equal(t, "halted", got.Data)
}

func TestRegisterRejectsOverCapacity(t *testing.T) {
	t.Parallel()
	b := New(zerolog.Nop())
	done := make(chan struct{})
	defer close(done)
	go b.Run(done)

	for i := 0; i < MaxSubscribers; i++ {
		ok := b.Register(newSubscriber())
		require.True(t, ok)
	}
	assert.False(t, b.Register(newSubscriber()), "registration beyond MaxSubscribers must fail")
}

func TestSubscriberEnqueueDropsOldestNonCritical(t *testing.T) {
	t.Parallel()
	sub := newSubscriber()
	sub.cap = 3

	sub.enqueue(domain.Event{Type: domain.EventPriceUpdate, Data: 1})
	sub.enqueue(domain.Event{Type: domain.EventPriceUpdate, Data: 2})
	sub.enqueue(domain.Event{Type: domain.EventPriceUpdate, Data: 3})
	sub.enqueue(domain.Event{Type: domain.EventPriceUpdate, Data: 4})

	frames := sub.drain()
	require.Len(t, frames, 4, "expect one dropped frame plus 3 retained data frames")
	assert.Equal(t, droppedEventType, frames[0].Type)
	assert.Equal(t, droppedPayload{Count: 1}, frames[0].Data)
	assert.Equal(t, 2, frames[1].Data)
	assert.Equal(t, 3, frames[2].Data)
	assert.Equal(t, 4, frames[3].Data)
}

func TestSubscriberNeverDropsCriticalAlerts(t *testing.T) {
	t.Parallel()
	sub := newSubscriber()
	sub.cap = 2

	critical := domain.Event{Type: domain.EventAlert, Data: domain.Alert{Severity: domain.SeverityCritical, Message: "a"}}
	sub.enqueue(critical)
	sub.enqueue(domain.Event{Type: domain.EventAlert, Data: domain.Alert{Severity: domain.SeverityCritical, Message: "b"}})
	sub.enqueue(domain.Event{Type: domain.EventAlert, Data: domain.Alert{Severity: domain.SeverityCritical, Message: "c"}})

	frames := sub.drain()
	assert.Len(t, frames, 3, "critical alerts must never be dropped even over capacity")
}

func TestServeHTTPWritesConnectedFrame(t *testing.T) {
	t.Parallel()
	b, stop := newTestBus(t)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, rec.Body.String(), `"type":"connected"`)
}
