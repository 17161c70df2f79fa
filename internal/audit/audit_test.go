package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (s *recordingSink) Record(_ context.Context, e models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) all() []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEvent(nil), s.events...)
}

func TestDispatcher_DeliversEvent(t *testing.T) {
	sink := &recordingSink{}
	d := audit.NewDispatcher(sink, time.Second)

	elapsed := 1500 * time.Millisecond
	ref := d.Emit(audit.Event(audit.OpAnalyze, "user-1", "sess-1", &elapsed, models.OutcomeSuccess))
	require.NoError(t, d.Wait(context.Background()))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ref.AuditID, events[0].ID)
	assert.Equal(t, ref.Timestamp, events[0].Timestamp)
	assert.Equal(t, "analyze", events[0].Operation)
	assert.Equal(t, "user-1", events[0].Actor)
	assert.Equal(t, elapsed, *events[0].Duration)
}

func TestDispatcher_FillsIDAndTimestamp(t *testing.T) {
	sink := &recordingSink{}
	d := audit.NewDispatcher(sink, time.Second)

	ref := d.Emit(models.AuditEvent{Operation: audit.OpMatch})
	require.NoError(t, d.Wait(context.Background()))

	assert.NotEqual(t, uuid.Nil, ref.AuditID)
	assert.False(t, ref.Timestamp.IsZero())
}

func TestDispatcher_SinkFailureDoesNotPropagate(t *testing.T) {
	d := audit.NewDispatcher(audit.SinkFunc(func(context.Context, models.AuditEvent) error {
		return errors.New("disk full")
	}), time.Second)

	ref := d.Emit(audit.Event(audit.OpStream, "u", "s", nil, models.OutcomeSuccess))
	assert.NotEqual(t, uuid.Nil, ref.AuditID)
	assert.NoError(t, d.Wait(context.Background()))
}

func TestDispatcher_SinkPanicRecovered(t *testing.T) {
	d := audit.NewDispatcher(audit.SinkFunc(func(context.Context, models.AuditEvent) error {
		panic("boom")
	}), time.Second)

	d.Emit(audit.Event(audit.OpStream, "u", "s", nil, models.OutcomeSuccess))
	assert.NoError(t, d.Wait(context.Background()))
}

func TestDispatcher_SinkBoundedByTimeout(t *testing.T) {
	var sawDeadline bool
	d := audit.NewDispatcher(audit.SinkFunc(func(ctx context.Context, _ models.AuditEvent) error {
		<-ctx.Done()
		sawDeadline = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return ctx.Err()
	}), 20*time.Millisecond)

	d.Emit(audit.Event(audit.OpAnalyze, "u", "s", nil, models.OutcomeSuccess))
	require.NoError(t, d.Wait(context.Background()))
	assert.True(t, sawDeadline)
}

func TestDispatcher_NilIsSafe(t *testing.T) {
	var d *audit.Dispatcher
	ref := d.Emit(models.AuditEvent{Operation: audit.OpAnalyze})
	assert.NotEqual(t, uuid.Nil, ref.AuditID)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	good := &recordingSink{}
	bad := audit.SinkFunc(func(context.Context, models.AuditEvent) error { return errors.New("down") })

	err := audit.MultiSink{bad, good}.Record(context.Background(), audit.Event(audit.OpMatch, "u", "s", nil, models.OutcomeSuccess))
	assert.EqualError(t, err, "down")
	assert.Len(t, good.all(), 1)
}

func TestLogSink_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	docID := uuid.New()
	e := audit.Event(audit.OpDocumentAccess, "user-9", "sess-9", nil, models.OutcomeSuccess)
	e.DocumentID = &docID
	require.NoError(t, sink.Record(context.Background(), e))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["msg"])
	assert.Equal(t, "document_access", line["operation"])
	assert.Equal(t, "user-9", line["actor"])
	assert.Equal(t, docID.String(), line["document_id"])
	assert.NotContains(t, line, "duration_ms")
}
