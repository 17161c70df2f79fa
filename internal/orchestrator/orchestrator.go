// Package orchestrator runs both analyzers over a document, reconciles their
// answers and caches confident results.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/cache"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/internal/normalize"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// CacheThreshold is the minimum overall confidence for a result to be cached.
const CacheThreshold = 0.85

const (
	defaultTimeout       = 2 * time.Minute
	defaultMaxConcurrent = 4
)

// ErrAnalysisTimeout is returned when the combined wait on both analyzers
// exceeds the operation timeout or the caller's deadline.
var ErrAnalysisTimeout = errors.New("analysis timed out")

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	// Timeout bounds the combined wait on both analyzers.
	Timeout time.Duration
	// MaxConcurrent is how many orchestrations may call the analyzers at once.
	MaxConcurrent int64
	// SegmentLength is passed to the normalizer.
	SegmentLength int
	Metrics       *metrics.Recorder
	Audit         *audit.Dispatcher
}

// Orchestrator fans requests out to the LLM and clinical analyzers.
type Orchestrator struct {
	sources    []models.Analyzer
	normalizer *normalize.Normalizer
	cache      *cache.Tiered
	flight     singleflight.Group
	sem        *semaphore.Weighted
	timeout    time.Duration
	metrics    *metrics.Recorder
	audit      *audit.Dispatcher
}

// New creates an Orchestrator. Source order matters: llm findings and
// explanations come first, clinical ones win explanation collisions.
func New(llm, clinical models.Analyzer, c *cache.Tiered, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if c == nil {
		c = cache.NewTiered(1000, time.Hour, nil)
	}
	return &Orchestrator{
		sources:    []models.Analyzer{llm, clinical},
		normalizer: normalize.New(opts.SegmentLength),
		cache:      c,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:    opts.Timeout,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
	}
}

// AnalyzeDocument validates, normalizes and analyzes one document. Identical
// concurrent requests share one computation; confident results are cached.
func (o *Orchestrator) AnalyzeDocument(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	sc := req.SecurityContext
	if err := sc.Validate(); err != nil {
		o.metrics.Failed(ctx, audit.OpAnalyze, "security_context")
		return nil, err
	}

	norm, err := o.normalizer.Normalize(req.DocumentText)
	if err != nil {
		o.metrics.Failed(ctx, audit.OpAnalyze, "invalid_input")
		return nil, err
	}

	key := cache.ResultKey(cache.Fingerprint(norm.ProcessedText, req.Parameters, sc.UserID, sc.AccessLevel, sc.SessionID))
	if raw, ok := o.cache.Get(ctx, key); ok {
		if res, err := decodeResult(raw); err == nil {
			o.metrics.CacheHit(ctx, audit.OpAnalyze)
			return res, nil
		}
		o.cache.Delete(ctx, key)
	}

	for {
		ch := o.flight.DoChan(key, func() (any, error) {
			return o.compute(ctx, key, norm, req)
		})

		select {
		case <-ctx.Done():
			return nil, o.fail(ctx, sc, ctxError(ctx))
		case r := <-ch:
			var gone *leaderGoneError
			switch {
			case errors.As(r.Err, &gone) && ctx.Err() == nil:
				// The caller that started this flight went away; start over.
				continue
			case errors.As(r.Err, &gone):
				return nil, o.fail(ctx, sc, ctxError(ctx))
			case r.Err != nil:
				return nil, r.Err
			}
			return decodeResult(r.Val.([]byte))
		}
	}
}

// compute runs under the context of whichever caller started the flight. It
// returns the encoded result so every waiter decodes its own copy.
func (o *Orchestrator) compute(ctx context.Context, key string, norm *normalize.Result, req models.AnalysisRequest) ([]byte, error) {
	sc := req.SecurityContext

	if raw, ok := o.cache.Get(ctx, key); ok {
		o.metrics.CacheHit(ctx, audit.OpAnalyze)
		return raw, nil
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, &leaderGoneError{err: err}
	}
	defer o.sem.Release(1)

	start := time.Now()
	input := models.AnalyzeInput{
		Text:       norm.ProcessedText,
		Segments:   norm.Segments,
		Parameters: req.Parameters,
	}
	outs, err := fanOut(ctx, o.timeout, o.sources, func(ctx context.Context, a models.Analyzer) (models.AnalyzerOutput, error) {
		return a.Analyze(ctx, input)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &leaderGoneError{err: ctxError(ctx)}
		}
		return nil, o.fail(ctx, sc, err)
	}
	elapsed := time.Since(start)

	res := o.mergeAnalysis(outs)
	res.AnalysisID = uuid.New()
	res.SensitiveSpans = norm.SensitiveSpans
	res.Metrics.ProcessingTimeMS = elapsed.Milliseconds()
	res.Metrics.SegmentCount = len(norm.Segments)
	res.CreatedAt = time.Now().UTC()
	res.Audit = o.audit.Emit(audit.Event(audit.OpAnalyze, sc.UserID, sc.SessionID, &elapsed, models.OutcomeSuccess))

	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding analysis result: %w", err)
	}

	o.metrics.Completed(ctx, audit.OpAnalyze, elapsed, res.Confidence.Overall)
	if res.Confidence.Overall >= CacheThreshold {
		o.cache.Set(ctx, key, raw)
	}

	slog.InfoContext(ctx, "analysis completed",
		"analysis_id", res.AnalysisID,
		"session_id", sc.SessionID,
		"overall_confidence", res.Confidence.Overall,
		"segments", res.Metrics.SegmentCount,
		"duration_ms", res.Metrics.ProcessingTimeMS,
	)
	return raw, nil
}

// fail counts, logs and audits a failed operation and returns err unchanged.
func (o *Orchestrator) fail(ctx context.Context, sc models.SecurityContext, err error) error {
	kind := errorKind(err)
	o.metrics.Failed(context.WithoutCancel(ctx), audit.OpAnalyze, kind)
	o.audit.Emit(audit.Event(audit.OpAnalyze, sc.UserID, sc.SessionID, nil, models.OutcomeFailure))
	slog.WarnContext(ctx, "analysis failed", "session_id", sc.SessionID, "kind", kind, "error", err)
	return err
}

// leaderGoneError marks a flight abandoned because the caller that started it
// cancelled. Other waiters retry instead of inheriting the cancellation.
type leaderGoneError struct{ err error }

func (e *leaderGoneError) Error() string { return e.err.Error() }
func (e *leaderGoneError) Unwrap() error { return e.err }

// ctxError maps a finished context to the error surfaced to callers.
func ctxError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrAnalysisTimeout, err)
	}
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAnalysisTimeout):
		return "analysis_timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, analyzer.ErrAnalyzer):
		return string(analyzer.KindOf(err))
	}
	return "internal"
}

func decodeResult(raw []byte) (*models.AnalysisResult, error) {
	var res models.AnalysisResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding analysis result: %w", err)
	}
	return &res, nil
}
