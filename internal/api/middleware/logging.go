package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logger writes one access line per request: method, path, status, bytes
// and latency, plus the client name once Auth has run. Request and response
// bodies may carry PHI and are never logged.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tw := track(w)

		next.ServeHTTP(tw, r)

		level := slog.LevelInfo
		if tw.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", tw.Status()),
			slog.Int64("bytes", tw.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		}
		if c, ok := GetClient(r); ok {
			attrs = append(attrs, slog.String("client", c.Name))
		}
		slog.LogAttrs(r.Context(), level, "request", attrs...)
	})
}
