// Package lifecycle owns clinical document records: ingest, the processing
// status state machine, AI analysis attachment and the per-document audit trail.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/blob"
	"github.com/kiranshivaraju/clinidoc/internal/extract"
	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// DefaultMaxFileSize is 100 MiB.
const DefaultMaxFileSize = 100 << 20

// casAttempts bounds how often a transition is re-evaluated after losing a race.
const casAttempts = 3

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/tiff":      true,
}

// Actor identifies who performs a lifecycle operation.
type Actor struct {
	ID        string
	SessionID string
}

type Options struct {
	MaxFileSize int64
	Audit       *audit.Dispatcher
	// Now is the clock; defaults to time.Now in UTC.
	Now func() time.Time
}

// Manager is the only writer of Document records.
type Manager struct {
	docs        store.DocumentStore
	blobs       blob.Store
	audit       *audit.Dispatcher
	maxFileSize int64
	now         func() time.Time
}

func NewManager(docs store.DocumentStore, blobs blob.Store, opts Options) *Manager {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{docs: docs, blobs: blobs, audit: opts.Audit, maxFileSize: opts.MaxFileSize, now: opts.Now}
}

// Upload is a new document as received from a client.
type Upload struct {
	AuthorizationID  uuid.UUID
	DocumentType     models.DocumentType
	Filename         string
	Content          []byte
	SecurityMetadata map[string]string
}

// Create stores the bytes and saves a PENDING document. On failure nothing is left behind.
func (m *Manager) Create(ctx context.Context, u Upload, actor Actor) (*models.Document, error) {
	if u.AuthorizationID == uuid.Nil {
		return nil, fmt.Errorf("%w: authorization_id is required", models.ErrInvalidInput)
	}
	if _, ok := models.ParseDocumentType(string(u.DocumentType)); !ok {
		return nil, fmt.Errorf("%w: unknown document type %q", models.ErrInvalidInput, u.DocumentType)
	}
	if len(u.Content) == 0 {
		return nil, fmt.Errorf("%w: document is empty", models.ErrInvalidInput)
	}
	if int64(len(u.Content)) > m.maxFileSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", models.ErrInvalidInput, m.maxFileSize)
	}
	mime := extract.MimeType(u.Content)
	if !allowedMimeTypes[mime] {
		return nil, fmt.Errorf("%w: unsupported content type %s", models.ErrInvalidInput, mime)
	}
	filename := safeFilename(u.Filename)

	sum := sha256.Sum256(u.Content)
	hash := hex.EncodeToString(sum[:])
	now := m.now()
	id := uuid.New()
	key := fmt.Sprintf("documents/%s/%s/%s", u.AuthorizationID, id, filename)

	var doc *models.Document
	err := m.audited(ctx, audit.OpDocumentUpload, actor, id, func() error {
		loc, err := m.blobs.Put(ctx, key, u.Content, mime, map[string]string{
			"content-hash":  hash,
			"uploaded-at":   now.Format(time.RFC3339),
			"document-type": string(u.DocumentType),
		})
		if err != nil {
			return storageErr("store document bytes", err)
		}

		doc = &models.Document{
			ID:              id,
			AuthorizationID: u.AuthorizationID,
			Metadata: models.DocumentMetadata{
				MimeType:    mime,
				Filename:    filename,
				Size:        int64(len(u.Content)),
				ContentHash: hash,
			},
			ContentLocation: loc,
			DocumentType:    u.DocumentType,
			Status:          models.StatusPending,
			UploadedBy:      actor.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
			AuditTrail: []models.AuditEntry{{
				Timestamp: now,
				Action:    models.ActionUpload,
				Actor:     actor.ID,
				Details:   map[string]string{"content_hash": hash, "size": fmt.Sprint(len(u.Content))},
			}},
			SecurityMetadata:   u.SecurityMetadata,
			ComplianceMetadata: map[string]string{"phi": "true"},
		}
		if err := m.docs.Save(ctx, doc); err != nil {
			if derr := m.blobs.Delete(context.WithoutCancel(ctx), loc); derr != nil {
				slog.WarnContext(ctx, "failed to remove orphaned document bytes", "document_id", id, "error", derr)
			}
			return storageErr("save document", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "document uploaded",
		"document_id", id, "authorization_id", u.AuthorizationID, "size", len(u.Content), "mime_type", mime)
	return doc, nil
}

// Get returns a document and records the access.
func (m *Manager) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.Document, error) {
	var doc *models.Document
	err := m.audited(ctx, audit.OpDocumentAccess, actor, id, func() error {
		d, err := m.load(ctx, id)
		doc = d
		return err
	})
	return doc, err
}

// Content returns the stored bytes of a document.
func (m *Manager) Content(ctx context.Context, doc *models.Document) ([]byte, error) {
	data, err := m.blobs.Get(ctx, doc.ContentLocation)
	if err != nil {
		return nil, storageErr("read document bytes", err)
	}
	return data, nil
}

// List queries documents. Listing is not audited per document.
func (m *Manager) List(ctx context.Context, filter store.DocumentFilter) ([]*models.Document, int, error) {
	docs, total, err := m.docs.Query(ctx, filter)
	if err != nil {
		return nil, 0, storageErr("query documents", err)
	}
	return docs, total, nil
}

// UpdateStatus moves a document to next. The change is a compare-and-swap on
// the stored status; a concurrent writer that got there first forces the
// transition to be re-validated against the new state.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, next models.ProcessingStatus, actor Actor, reason string) (*models.Document, error) {
	var doc *models.Document
	err := m.audited(ctx, audit.OpStatusUpdate, actor, id, func() error {
		for range casAttempts {
			cur, err := m.load(ctx, id)
			if err != nil {
				return err
			}
			if !CanTransition(cur.Status, next) {
				return &TransitionError{From: cur.Status, To: next}
			}

			now := m.now()
			entry := statusEntry(now, actor, cur.Status, next, reason)
			err = m.docs.AtomicUpdateStatus(ctx, id, cur.Status, next, entry, now)
			switch {
			case err == nil:
				cur.Status = next
				cur.UpdatedAt = now
				cur.AuditTrail = append(cur.AuditTrail, entry)
				doc = cur
				return nil
			case errors.Is(err, store.ErrStatusConflict):
				continue
			case errors.Is(err, store.ErrNotFound):
				return ErrNotFound
			default:
				return storageErr("update status", err)
			}
		}
		return fmt.Errorf("%w: status of document %s changed concurrently", ErrInvalidTransition, id)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "document status updated", "document_id", id, "status", next, "actor", actor.ID)
	return doc, nil
}

// UpdateAIAnalysis validates and stores analysis results. The status only
// changes when u.Complete is set, and then only PROCESSING -> PROCESSED.
// A payload that fails validation leaves the document untouched.
func (m *Manager) UpdateAIAnalysis(ctx context.Context, id uuid.UUID, u AnalysisUpdate, actor Actor) (*models.Document, error) {
	now := m.now()
	analysis, err := u.Validate(now)
	if err != nil {
		return nil, err
	}

	var doc *models.Document
	err = m.audited(ctx, audit.OpAIAnalysisUpdate, actor, id, func() error {
		for range casAttempts {
			cur, err := m.load(ctx, id)
			if err != nil {
				return err
			}

			w := store.AnalysisWrite{
				Analysis: analysis,
				At:       now,
				Entries: []models.AuditEntry{{
					Timestamp: now,
					Action:    models.ActionAIAnalysisUpdate,
					Actor:     actor.ID,
					Details: map[string]string{
						"analysis_version": analysis.AnalysisVersion,
						"confidence_score": fmt.Sprintf("%.4f", analysis.ConfidenceScore),
					},
				}},
			}
			if u.Complete {
				if cur.Status != models.StatusProcessing {
					return &TransitionError{From: cur.Status, To: models.StatusProcessed}
				}
				w.Transition = &store.Transition{From: models.StatusProcessing, To: models.StatusProcessed}
				w.Entries = append(w.Entries, statusEntry(now, actor, models.StatusProcessing, models.StatusProcessed, u.Reason))
			}

			err = m.docs.UpdateAnalysis(ctx, id, w)
			switch {
			case err == nil:
				cur.AIAnalysis = analysis
				cur.UpdatedAt = now
				cur.AuditTrail = append(cur.AuditTrail, w.Entries...)
				if w.Transition != nil {
					cur.Status = w.Transition.To
				}
				doc = cur
				return nil
			case errors.Is(err, store.ErrStatusConflict):
				continue
			case errors.Is(err, store.ErrNotFound):
				return ErrNotFound
			default:
				return storageErr("update analysis", err)
			}
		}
		return fmt.Errorf("%w: status of document %s changed concurrently", ErrInvalidTransition, id)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "document analysis updated",
		"document_id", id, "complete", u.Complete, "confidence", analysis.ConfidenceScore)
	return doc, nil
}

func (m *Manager) load(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	d, err := m.docs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load document", err)
	}
	return d, nil
}

// audited runs fn and emits one audit event for it, whatever the outcome.
func (m *Manager) audited(ctx context.Context, op string, actor Actor, docID uuid.UUID, fn func() error) error {
	start := time.Now()
	err := fn()

	outcome := models.OutcomeSuccess
	if err != nil {
		outcome = models.OutcomeFailure
	}
	elapsed := time.Since(start)
	e := audit.Event(op, actor.ID, actor.SessionID, &elapsed, outcome)
	e.DocumentID = &docID
	m.audit.Emit(e)

	if err != nil {
		slog.WarnContext(ctx, "document operation failed", "operation", op, "document_id", docID, "error", err)
	}
	return err
}

func statusEntry(at time.Time, actor Actor, from, to models.ProcessingStatus, reason string) models.AuditEntry {
	details := map[string]string{
		"previous_status": string(from),
		"new_status":      string(to),
	}
	if reason != "" {
		details["reason"] = reason
	}
	return models.AuditEntry{Timestamp: at, Action: models.ActionStatusUpdate, Actor: actor.ID, Details: details}
}

func safeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document"
	}
	return name
}
