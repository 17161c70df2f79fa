// Package audit delivers audit events to sinks without ever failing the
// operation that produced them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// Operations recorded in the audit log.
const (
	OpAnalyze          = "analyze"
	OpMatch            = "match"
	OpStream           = "stream"
	OpDocumentUpload   = models.ActionUpload
	OpDocumentAccess   = "document_access"
	OpStatusUpdate     = models.ActionStatusUpdate
	OpAIAnalysisUpdate = models.ActionAIAnalysisUpdate
)

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event models.AuditEvent) error

func (f SinkFunc) Record(ctx context.Context, event models.AuditEvent) error { return f(ctx, event) }

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink; a nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e models.AuditEvent) error {
	attrs := []any{
		"audit_id", e.ID,
		"operation", e.Operation,
		"actor", e.Actor,
		"session_id", e.SessionID,
		"outcome", e.Outcome,
		"timestamp", e.Timestamp,
	}
	if e.DocumentID != nil {
		attrs = append(attrs, "document_id", *e.DocumentID)
	}
	if e.Duration != nil {
		attrs = append(attrs, "duration_ms", e.Duration.Milliseconds())
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// MultiSink records to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e models.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends events to a Sink in the background.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Each delivery is bounded by timeout.
func NewDispatcher(sink Sink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sink: sink, timeout: timeout}
}

// Event builds an AuditEvent with a fresh id and UTC timestamp.
func Event(op, actor, sessionID string, duration *time.Duration, outcome string) models.AuditEvent {
	return models.AuditEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Operation: op,
		Actor:     actor,
		SessionID: sessionID,
		Duration:  duration,
		Outcome:   outcome,
	}
}

// Emit delivers e asynchronously and returns its reference immediately.
// Failures and panics in the sink are logged.
func (d *Dispatcher) Emit(e models.AuditEvent) models.AuditReference {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	ref := models.AuditReference{AuditID: e.ID, Timestamp: e.Timestamp}
	if d == nil || d.sink == nil {
		return ref
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in audit sink", "error", fmt.Sprint(r), "audit_id", e.ID, "operation", e.Operation)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sink.Record(ctx, e); err != nil {
			slog.Error("audit sink failed", "error", err, "audit_id", e.ID, "operation", e.Operation)
		}
	}()
	return ref
}

// Wait blocks until pending deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
