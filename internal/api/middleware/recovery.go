package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/clinidoc/internal/api/response"
)

// Recovery turns a handler panic into a 500 error envelope. If the handler
// had already started its response (an NDJSON stream, say) the envelope
// cannot be sent, so the connection is aborted instead and the client sees
// a truncated body rather than a clean end of stream.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := track(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			slog.ErrorContext(r.Context(), "handler panic",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", chimw.GetReqID(r.Context()),
				"response_started", tw.started(),
				"stack", string(debug.Stack()),
			)

			if tw.started() {
				panic(http.ErrAbortHandler)
			}
			response.Error(tw, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		}()
		next.ServeHTTP(tw, r)
	})
}
