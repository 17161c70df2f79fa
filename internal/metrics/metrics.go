// Package metrics records analyzer and orchestration telemetry through the
// OpenTelemetry metric API. Callers hold a *Recorder; the backing provider is
// either a real SDK provider (see Registry) or a no-op.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names.
const (
	AnalyzerRequests   = "analyzer_requests_total"
	AnalyzerErrors     = "analyzer_errors_total"
	AnalyzerLatency    = "analyzer_latency_seconds"
	AnalysisRequests   = "analysis_requests_total"
	AnalysisCacheHits  = "analysis_cache_hits_total"
	AnalysisErrors     = "analysis_errors_total"
	AnalysisDuration   = "analysis_processing_seconds"
	AnalysisConfidence = "analysis_confidence"
	StreamSessions     = "stream_sessions_total"
)

// Recorder owns the instruments. Safe for concurrent use.
type Recorder struct {
	analyzerRequests metric.Int64Counter
	analyzerErrors   metric.Int64Counter
	analyzerLatency  metric.Float64Histogram
	requests         metric.Int64Counter
	cacheHits        metric.Int64Counter
	errors           metric.Int64Counter
	duration         metric.Float64Histogram
	confidence       metric.Float64Gauge
	streams          metric.Int64Counter
}

// New creates all instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error

	if r.analyzerRequests, err = meter.Int64Counter(AnalyzerRequests,
		metric.WithDescription("Analyzer calls by analyzer and operation")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalyzerRequests, err)
	}
	if r.analyzerErrors, err = meter.Int64Counter(AnalyzerErrors,
		metric.WithDescription("Failed analyzer calls by analyzer and error kind")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalyzerErrors, err)
	}
	if r.analyzerLatency, err = meter.Float64Histogram(AnalyzerLatency,
		metric.WithUnit("s"), metric.WithDescription("Analyzer call latency")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalyzerLatency, err)
	}
	if r.requests, err = meter.Int64Counter(AnalysisRequests,
		metric.WithDescription("Orchestrations computed (cache misses)")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalysisRequests, err)
	}
	if r.cacheHits, err = meter.Int64Counter(AnalysisCacheHits,
		metric.WithDescription("Analyses served from the result cache")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalysisCacheHits, err)
	}
	if r.errors, err = meter.Int64Counter(AnalysisErrors,
		metric.WithDescription("Failed orchestrations by operation and error kind")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalysisErrors, err)
	}
	if r.duration, err = meter.Float64Histogram(AnalysisDuration,
		metric.WithUnit("s"), metric.WithDescription("Orchestration processing time")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalysisDuration, err)
	}
	if r.confidence, err = meter.Float64Gauge(AnalysisConfidence,
		metric.WithDescription("Overall confidence of the latest orchestration")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", AnalysisConfidence, err)
	}
	if r.streams, err = meter.Int64Counter(StreamSessions,
		metric.WithDescription("Streaming sessions started")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", StreamSessions, err)
	}
	return &r, nil
}

// Noop returns a Recorder that drops everything.
func Noop() *Recorder {
	r, err := New(noop.NewMeterProvider().Meter("clinidoc"))
	if err != nil {
		panic(err) // the no-op meter never fails
	}
	return r
}

// AnalyzerCall records one attempt against an analyzer. kind is empty on success.
func (r *Recorder) AnalyzerCall(ctx context.Context, analyzer, operation string, elapsed time.Duration, kind string) {
	attrs := metric.WithAttributes(
		attribute.String("analyzer", analyzer),
		attribute.String("operation", operation),
	)
	r.analyzerRequests.Add(ctx, 1, attrs)
	r.analyzerLatency.Record(ctx, elapsed.Seconds(), attrs)
	if kind != "" {
		r.analyzerErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("analyzer", analyzer),
			attribute.String("kind", kind),
		))
	}
}

// CacheHit counts a result served from cache. Nothing else is recorded for hits.
func (r *Recorder) CacheHit(ctx context.Context, operation string) {
	r.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// Completed records a computed orchestration.
func (r *Recorder) Completed(ctx context.Context, operation string, elapsed time.Duration, overall float64) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	r.requests.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
	r.confidence.Record(ctx, overall, attrs)
}

// Failed records a failed orchestration.
func (r *Recorder) Failed(ctx context.Context, operation, kind string) {
	r.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("kind", kind),
	))
}

// StreamStarted counts a new streaming session.
func (r *Recorder) StreamStarted(ctx context.Context) {
	r.streams.Add(ctx, 1)
}
