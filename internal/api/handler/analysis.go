package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/api/response"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/internal/stream"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

const maxJSONBody = 16 << 20

// Analyzer is the orchestrator operation behind POST /api/v1/analysis/analyze.
type Analyzer interface {
	AnalyzeDocument(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// Matcher is the orchestrator operation behind POST /api/v1/analysis/match.
type Matcher interface {
	MatchCriteria(ctx context.Context, req models.MatchRequest) (*models.MatchResult, error)
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/analysis/analyze.
func NewAnalyzeHandler(a Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.AnalysisRequest
		if !decode(w, r, &req) {
			return
		}
		if err := req.SecurityContext.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if req.DocumentText == "" {
			badRequest(w, "document_text is required")
			return
		}

		res, err := a.AnalyzeDocument(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewMatchHandler returns an http.HandlerFunc for POST /api/v1/analysis/match.
func NewMatchHandler(m Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.MatchRequest
		if !decode(w, r, &req) {
			return
		}
		if err := req.SecurityContext.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if len(req.CriteriaRules.Rules) == 0 {
			badRequest(w, "criteria_rules.rules must not be empty")
			return
		}

		res, err := m.MatchCriteria(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

// StreamOptions carries the session dependencies shared by every stream.
type StreamOptions struct {
	// DefaultChunkSize applies when a request has no chunk_size.
	DefaultChunkSize int
	// EventTimeout is the longest the connection may wait for the next
	// event. Zero keeps the server's WriteTimeout for the whole stream.
	EventTimeout     time.Duration
	Metrics          *metrics.Recorder
	Audit            *audit.Dispatcher
}

type streamRequest struct {
	DocumentText    string                 `json:"document_text"`
	ChunkSize       int                    `json:"chunk_size"`
	Parameters      map[string]string      `json:"parameters"`
	SecurityContext models.SecurityContext `json:"security_context"`
}

// NewStreamHandler returns an http.HandlerFunc for POST /api/v1/analysis/stream.
// The response is newline-delimited JSON, one StreamEvent per line. Errors
// found before the first event use the normal error envelope; later errors
// arrive as a terminal error event.
func NewStreamHandler(a stream.DocumentAnalyzer, opts StreamOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req streamRequest
		if !decode(w, r, &req) {
			return
		}
		if err := req.SecurityContext.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if req.DocumentText == "" {
			badRequest(w, "document_text is required")
			return
		}

		if req.ChunkSize == 0 {
			req.ChunkSize = opts.DefaultChunkSize
		}
		sess, err := stream.New(a, req.DocumentText, req.SecurityContext, stream.Options{
			ChunkSize:  req.ChunkSize,
			Parameters: req.Parameters,
			Metrics:    opts.Metrics,
			Audit:      opts.Audit,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := response.NewNDJSON(w, opts.EventTimeout)
		for ev := range sess.Events(r.Context()) {
			if err := out.Write(ev); err != nil {
				slog.WarnContext(r.Context(), "stream client went away", "stream_id", sess.ID, "error", err)
				return
			}
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body too large", nil)
			return false
		}
		badRequest(w, "Invalid JSON body")
		return false
	}
	return true
}
