package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/clinidoc/internal/api/middleware"
	"github.com/kiranshivaraju/clinidoc/internal/api/response"
)

// DocumentHandlers serves the /api/v1/documents routes.
type DocumentHandlers interface {
	Upload(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	UpdateStatus(w http.ResponseWriter, r *http.Request)
	UpdateAnalysis(w http.ResponseWriter, r *http.Request)
	Process(w http.ResponseWriter, r *http.Request)
}

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth           *mw.Auth
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler  http.HandlerFunc
	MetricsHandler http.HandlerFunc
	AnalyzeHandler http.HandlerFunc
	MatchHandler   http.HandlerFunc
	StreamHandler  http.HandlerFunc
	Documents      DocumentHandlers
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Session-ID", "X-Request-Id"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/metrics", orNotImplemented(deps.MetricsHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/analysis/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/api/v1/analysis/match", orNotImplemented(deps.MatchHandler))
		r.Post("/api/v1/analysis/stream", orNotImplemented(deps.StreamHandler))

		d := deps.Documents
		if d == nil {
			d = notImplementedDocuments{}
		}
		r.Route("/api/v1/documents", func(r chi.Router) {
			r.Post("/", d.Upload)
			r.Get("/", d.List)
			r.Get("/{documentID}", d.Get)
			r.Put("/{documentID}/status", d.UpdateStatus)
			r.Put("/{documentID}/analysis", d.UpdateAnalysis)
			r.Post("/{documentID}/process", d.Process)
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return notImplemented
}

func notImplemented(w http.ResponseWriter, _ *http.Request) {
	response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
}

type notImplementedDocuments struct{}

func (notImplementedDocuments) Upload(w http.ResponseWriter, r *http.Request)         { notImplemented(w, r) }
func (notImplementedDocuments) List(w http.ResponseWriter, r *http.Request)           { notImplemented(w, r) }
func (notImplementedDocuments) Get(w http.ResponseWriter, r *http.Request)            { notImplemented(w, r) }
func (notImplementedDocuments) UpdateStatus(w http.ResponseWriter, r *http.Request)   { notImplemented(w, r) }
func (notImplementedDocuments) UpdateAnalysis(w http.ResponseWriter, r *http.Request) { notImplemented(w, r) }
func (notImplementedDocuments) Process(w http.ResponseWriter, r *http.Request)        { notImplemented(w, r) }
