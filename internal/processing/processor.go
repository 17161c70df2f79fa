// Package processing runs stored documents through the analysis pipeline.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/internal/extract"
	"github.com/kiranshivaraju/clinidoc/internal/lifecycle"
	"github.com/kiranshivaraju/clinidoc/internal/orchestrator"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// AnalysisVersion is stamped on analyses produced by this pipeline.
const AnalysisVersion = "clinidoc-orchestrator/1"

// DocumentAnalyzer is the orchestrator capability used by the pipeline.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// Processor moves a document PROCESSING -> PROCESSED, or FAILED on any error.
type Processor struct {
	docs     *lifecycle.Manager
	analyzer DocumentAnalyzer
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// ErrShuttingDown is returned by Trigger once Shutdown has been called.
var ErrShuttingDown = errors.New("document processing is shutting down")

// New creates a Processor. timeout bounds background runs started by Trigger.
func New(docs *lifecycle.Manager, a DocumentAnalyzer, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Processor{docs: docs, analyzer: a, timeout: timeout}
}

// Process runs the pipeline synchronously and returns the final document.
func (p *Processor) Process(ctx context.Context, id uuid.UUID, sc models.SecurityContext) (*models.Document, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	actor := lifecycle.Actor{ID: sc.UserID, SessionID: sc.SessionID}

	doc, err := p.docs.UpdateStatus(ctx, id, models.StatusProcessing, actor, "processing started")
	if err != nil {
		return nil, err
	}

	update, err := p.analyze(ctx, doc, sc)
	if err == nil {
		doc, err = p.docs.UpdateAIAnalysis(ctx, id, update, actor)
	}
	if err != nil {
		reason := failureReason(err)
		if _, ferr := p.docs.UpdateStatus(context.WithoutCancel(ctx), id, models.StatusFailed, actor, reason); ferr != nil {
			slog.ErrorContext(ctx, "failed to mark document failed", "document_id", id, "error", ferr)
		}
		slog.WarnContext(ctx, "document processing failed", "document_id", id, "reason", reason)
		return nil, err
	}
	return doc, nil
}

// Trigger validates the request and runs Process in the background.
func (p *Processor) Trigger(id uuid.UUID, sc models.SecurityContext) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in document processing", "document_id", id, "error", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if _, err := p.Process(ctx, id, sc); err != nil {
			slog.Warn("background processing failed", "document_id", id, "error", err)
		}
	}()
	return nil
}

// Shutdown refuses new triggers and waits for the running ones.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Wait(ctx)
}

// Wait blocks until background runs finish or ctx is done. It does not stop
// new triggers; callers that race Trigger must use Shutdown.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) analyze(ctx context.Context, doc *models.Document, sc models.SecurityContext) (lifecycle.AnalysisUpdate, error) {
	data, err := p.docs.Content(ctx, doc)
	if err != nil {
		return lifecycle.AnalysisUpdate{}, err
	}
	text, err := extract.Text(doc.Metadata.MimeType, data)
	if err != nil {
		return lifecycle.AnalysisUpdate{}, err
	}
	res, err := p.analyzer.AnalyzeDocument(ctx, models.AnalysisRequest{
		DocumentText:    text,
		Parameters:      map[string]string{"document_type": string(doc.DocumentType)},
		SecurityContext: sc,
	})
	if err != nil {
		return lifecycle.AnalysisUpdate{}, err
	}
	return ResultUpdate(res), nil
}

// ResultUpdate converts an orchestrator result into a completing analysis update.
func ResultUpdate(res *models.AnalysisResult) lifecycle.AnalysisUpdate {
	fields := make(map[string]any, len(res.Entities))
	var conditions []any
	for category, findings := range res.Entities {
		texts := make([]any, 0, len(findings))
		for _, f := range findings {
			texts = append(texts, f.Text)
		}
		fields[category] = texts
		if category == "conditions" {
			conditions = texts
		}
	}
	slices.SortFunc(conditions, func(a, b any) int {
		return strings.Compare(a.(string), b.(string))
	})

	return lifecycle.AnalysisUpdate{
		Results: map[string]any{
			"confidence_score":    res.Confidence.Overall,
			"extracted_fields":    fields,
			"analysis_version":    AnalysisVersion,
			"detected_conditions": conditions,
			"analyzed_at":         res.CreatedAt.Format(time.RFC3339),
			"analysis_id":         res.AnalysisID.String(),
		},
		Complete: true,
		Reason:   "analysis completed",
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, extract.ErrUnsupported), errors.Is(err, extract.ErrNoText):
		return "extraction_failed"
	case errors.Is(err, orchestrator.ErrAnalysisTimeout):
		return "analysis_timeout"
	case errors.Is(err, analyzer.ErrAnalyzer):
		return "analyzer_error: " + string(analyzer.KindOf(err))
	case errors.Is(err, lifecycle.ErrValidation):
		return "validation_failed"
	case errors.Is(err, lifecycle.ErrStorage):
		return "storage_unavailable"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal_error"
}
