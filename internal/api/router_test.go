package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/api"
	mw "github.com/kiranshivaraju/clinidoc/internal/api/middleware"
	"github.com/kiranshivaraju/clinidoc/internal/cache"
	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub store that returns no clients (all auth fails) ---

type stubStore struct{}

func (s *stubStore) GetAPIClientsByPrefix(_ context.Context, _ string) ([]*models.APIClient, error) {
	return nil, nil
}
func (s *stubStore) UpdateAPIClientLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateAPIClient(_ context.Context, _ *models.APIClient) error  { return nil }
func (s *stubStore) RevokeAPIClient(_ context.Context, _ uuid.UUID) error          { return nil }

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *stubCache) Ping(_ context.Context) error                                      { return nil }
func (c *stubCache) Hit(_ context.Context, _ string, window time.Duration) (cache.Window, error) {
	return cache.Window{Count: 1, ResetIn: window}, nil
}

// --- router tests ---

func newTestRouter(origins ...string) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:           mw.NewAuth(&stubStore{}),
		RateLimit:      mw.NewRateLimit(&stubCache{}, 60, time.Minute),
		AllowedOrigins: origins,
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
	})
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/health", http.StatusOK},
		{"/api/v1/metrics", http.StatusNotImplemented},
		{"/api/v1/nonexistent", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/analysis/analyze"},
		{"POST", "/api/v1/analysis/match"},
		{"POST", "/api/v1/analysis/stream"},
		{"POST", "/api/v1/documents"},
		{"GET", "/api/v1/documents"},
		{"GET", "/api/v1/documents/" + uuid.NewString()},
		{"PUT", "/api/v1/documents/" + uuid.NewString() + "/status"},
		{"PUT", "/api/v1/documents/" + uuid.NewString() + "/analysis"},
		{"POST", "/api/v1/documents/" + uuid.NewString() + "/process"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_SetsRequestID(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(&stubStore{}),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60, time.Minute),
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(chimw.GetReqID(r.Context())))
		},
	})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter("https://portal.example.org")

	req := httptest.NewRequest("OPTIONS", "/api/v1/analysis/analyze", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://portal.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("OPTIONS", "/api/v1/analysis/analyze", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

var _ store.APIClientStore = (*stubStore)(nil)
var _ cache.Cache = (*stubCache)(nil)
