package eventbus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ServeHTTP is the SSE handler for the live event stream. It registers a
// Subscriber, writes a startup "connected" frame, then relays queued frames
// as "data: ...\n\n" until the client disconnects. A heartbeat comment is
// sent every HeartbeatInterval so idle connections survive intermediary
// proxies' read timeouts.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := newSubscriber()
	if !b.Register(sub) {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}
	defer b.Unregister(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, map[string]string{"type": "connected"}, b.log)
	flusher.Flush()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case _, ok := <-sub.notify:
			if !ok {
				return
			}
			for _, evt := range sub.drain() {
				if !writeFrame(w, evt, b.log) {
					return
				}
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, v interface{}, log zerolog.Logger) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal sse frame")
		return true
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(b); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	return true
}
