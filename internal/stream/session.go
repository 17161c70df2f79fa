// Package stream analyzes a long document chunk by chunk and reports progress
// as an ordered, finite sequence of events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/internal/normalize"
	"github.com/kiranshivaraju/clinidoc/internal/orchestrator"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// Chunk size bounds, in runes.
const (
	DefaultChunkSize = 4096
	MinChunkSize     = 1024
	MaxChunkSize     = 8192
)

// Error codes carried by terminal error events.
const (
	CodeTimeout         = "ANALYSIS_TIMEOUT"
	CodeAnalyzer        = "ANALYZER_ERROR"
	CodeInvalidInput    = "INVALID_REQUEST"
	CodeSecurityContext = "INVALID_SECURITY_CONTEXT"
	CodeConsumed        = "SESSION_CONSUMED"
	CodeInternal        = "INTERNAL_ERROR"
)

// DocumentAnalyzer is the orchestrator capability a session needs.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// Options configures a Session.
type Options struct {
	ChunkSize  int
	Parameters map[string]string
	Metrics    *metrics.Recorder
	Audit      *audit.Dispatcher
}

// Session is a single, non-restartable streaming analysis.
type Session struct {
	ID string

	analyzer DocumentAnalyzer
	chunks   []string
	params   map[string]string
	sc       models.SecurityContext
	metrics  *metrics.Recorder
	audit    *audit.Dispatcher
	consumed atomic.Bool
}

// New validates the request and splits the normalized text into chunks.
// Normalizing the whole document first keeps redaction from being defeated
// by a chunk boundary.
func New(a DocumentAnalyzer, text string, sc models.SecurityContext, opts Options) (*Session, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	size := opts.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}
	if size < MinChunkSize || size > MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk_size must be between %d and %d", models.ErrInvalidInput, MinChunkSize, MaxChunkSize)
	}

	norm, err := normalize.New(size).Normalize(text)
	if err != nil {
		return nil, err
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	return &Session{
		ID:       uuid.NewString(),
		analyzer: a,
		chunks:   norm.Segments,
		params:   opts.Parameters,
		sc:       sc,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
	}, nil
}

// TotalChunks is the number of chunks the session will analyze.
func (s *Session) TotalChunks() int { return len(s.chunks) }

// Events yields one in_progress event per analyzed chunk, then exactly one
// terminal event. A chunk failure yields an error event and ends the
// sequence. Cancelling ctx ends it without a terminal event; a deadline on
// ctx is reported as a timeout error event. The sequence can be ranged over
// once.
func (s *Session) Events(ctx context.Context) iter.Seq[models.StreamEvent] {
	return func(yield func(models.StreamEvent) bool) {
		seq := 0
		emit := func(e models.StreamEvent) bool {
			seq++
			e.SessionID = s.ID
			e.Sequence = seq
			e.TotalChunks = len(s.chunks)
			e.Timestamp = time.Now().UTC()
			return yield(e)
		}

		if !s.consumed.CompareAndSwap(false, true) {
			emit(models.StreamEvent{
				Status: models.StreamError,
				Error:  &models.StreamFailure{Code: CodeConsumed, Message: "stream session already consumed"},
			})
			return
		}

		s.metrics.StreamStarted(ctx)
		start := time.Now()
		outcome := models.OutcomeFailure
		defer func() {
			elapsed := time.Since(start)
			s.audit.Emit(audit.Event(audit.OpStream, s.sc.UserID, s.sc.SessionID, &elapsed, outcome))
		}()

		for i, chunk := range s.chunks {
			res, err := s.analyzer.AnalyzeDocument(ctx, models.AnalysisRequest{
				DocumentText:    chunk,
				Parameters:      s.params,
				SecurityContext: s.sc,
			})
			if err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					slog.InfoContext(ctx, "stream cancelled", "stream_id", s.ID, "processed_chunks", i)
					return
				}
				code := errorCode(err)
				slog.WarnContext(ctx, "stream chunk failed",
					"stream_id", s.ID, "session_id", s.sc.SessionID, "chunk", i+1, "code", code, "error", err)
				emit(models.StreamEvent{
					Status:          models.StreamError,
					Progress:        progress(i, len(s.chunks)),
					ProcessedChunks: i,
					Error:           &models.StreamFailure{Code: code, Message: errorMessage(code, err)},
				})
				return
			}

			if !emit(models.StreamEvent{
				Status:          models.StreamInProgress,
				ChunkAnalysis:   res,
				Progress:        progress(i+1, len(s.chunks)),
				ProcessedChunks: i + 1,
			}) {
				return
			}
		}

		outcome = models.OutcomeSuccess
		emit(models.StreamEvent{
			Status:          models.StreamCompleted,
			Progress:        100,
			ProcessedChunks: len(s.chunks),
		})
	}
}

func progress(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrAnalysisTimeout),
		errors.Is(err, analyzer.ErrAnalyzerTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, analyzer.ErrAnalyzer):
		return CodeAnalyzer
	case errors.Is(err, models.ErrInvalidSecurityContext):
		return CodeSecurityContext
	case errors.Is(err, models.ErrInvalidInput):
		return CodeInvalidInput
	}
	return CodeInternal
}

// errorMessage never echoes the underlying error, which may quote upstream
// payloads.
func errorMessage(code string, err error) string {
	switch code {
	case CodeTimeout:
		return "chunk analysis timed out"
	case CodeAnalyzer:
		var ae *analyzer.Error
		if errors.As(err, &ae) {
			return fmt.Sprintf("analyzer %s failed: %s", ae.Analyzer, ae.Kind)
		}
		return "analyzer failed"
	case CodeSecurityContext:
		return "invalid security context"
	case CodeInvalidInput:
		return "chunk rejected as invalid input"
	}
	return "internal error"
}
