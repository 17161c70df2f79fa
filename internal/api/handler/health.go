package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/api/response"
)

const healthCheckTimeout = 3 * time.Second

// Pinger is any dependency that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck names one dependency reported by the health endpoint.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. Any
// failing check turns the response into a 503 DEGRADED error.
func NewHealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		services := make(map[string]string, len(checks))
		degraded := false
		for _, c := range checks {
			services[c.Name] = "ok"
			if err := c.Pinger.Ping(ctx); err != nil {
				slog.WarnContext(ctx, "health check failed", "service", c.Name, "error", err)
				services[c.Name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
