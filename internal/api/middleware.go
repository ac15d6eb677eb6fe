package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// ownerHeader carries the caller's claimed owner identity on every mutating
// request. Comparing it against the configured owner id is the whole of
// "owner auth" per spec §6.2 — there is no session or token layer, just
// this one shared-secret-by-identifier header.
const ownerHeader = "X-Owner-ID"

// requireOwner rejects a request whose X-Owner-ID header does not exactly
// match the configured owner identity. An unconfigured owner (empty
// cfg.Owner.ID) rejects every owner-gated request, matching the "dry-run
// forced, no auto-execute" posture the rest of the core already takes when
// no owner is configured.
func (s *Server) requireOwner(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(ownerHeader)
		if got == "" || s.cfg.Owner.ID == "" || got != s.cfg.Owner.ID {
			writeError(w, http.StatusUnauthorized, "owner authentication required")
			return
		}
		next(w, r)
	}
}

// loggingMiddleware mirrors the pack's chi logging convention: wrap the
// response writer to capture status/bytes, log one line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
