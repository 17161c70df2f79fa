package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/api/response"
	"github.com/kiranshivaraju/clinidoc/internal/cache"
)

const defaultRequestsPerWindow = 60

// RateLimit caps each API key at limit requests per fixed window. Counters
// live in the shared cache so every replica sees the same budget.
type RateLimit struct {
	cache  cache.Cache
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimit(c cache.Cache, limit int, window time.Duration) *RateLimit {
	if limit <= 0 {
		limit = defaultRequestsPerWindow
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimit{cache: c, limit: limit, window: window, now: time.Now}
}

// Limit must run after Auth. Requests without an authenticated client pass
// through untouched, and so does everything while the cache is down.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := GetClient(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		win, err := rl.cache.Hit(r.Context(), cache.RateLimitKey(c.KeyPrefix), rl.window)
		if err != nil {
			slog.Warn("rate limit unavailable, allowing request",
				"client", c.Name, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		resetIn := win.ResetIn
		if resetIn <= 0 {
			resetIn = rl.window
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.limit)-win.Count, 0), 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(resetIn).Unix(), 10))

		if win.Count > int64(rl.limit) {
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(resetIn.Seconds()))))
			response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Request budget for this API key is exhausted", map[string]any{
					"limit":          rl.limit,
					"window_seconds": int(rl.window.Seconds()),
				})
			return
		}

		next.ServeHTTP(w, r)
	})
}
