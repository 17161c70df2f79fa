package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrStatusConflict means the stored status was not the expected one.
	ErrStatusConflict = errors.New("document status changed concurrently")
)

// DocumentStore persists documents. Status changes only go through
// AtomicUpdateStatus and UpdateAnalysis, both compare-and-swap on the stored status.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document) error
	Query(ctx context.Context, filter DocumentFilter) ([]*models.Document, int, error)
	AtomicUpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.ProcessingStatus, entry models.AuditEntry, at time.Time) error
	UpdateAnalysis(ctx context.Context, id uuid.UUID, w AnalysisWrite) error
}

// APIClientStore holds API credentials.
type APIClientStore interface {
	GetAPIClientsByPrefix(ctx context.Context, prefix string) ([]*models.APIClient, error)
	UpdateAPIClientLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIClient(ctx context.Context, client *models.APIClient) error
	RevokeAPIClient(ctx context.Context, id uuid.UUID) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	DocumentStore
	APIClientStore
}

// AnalysisWrite stores an AI analysis and appends audit entries in one write.
// With Transition set, the status moves From -> To in the same write and the
// whole write fails with ErrStatusConflict when the stored status is not From.
type AnalysisWrite struct {
	Analysis   *models.AIAnalysis
	Entries    []models.AuditEntry
	At         time.Time
	Transition *Transition
}

// Transition is an expected status change.
type Transition struct {
	From models.ProcessingStatus
	To   models.ProcessingStatus
}

// DocumentFilter narrows Query. Zero fields are ignored.
type DocumentFilter struct {
	AuthorizationID uuid.UUID
	Status          models.ProcessingStatus
	DocumentType    models.DocumentType
	UploadedBy      string
	CreatedAfter    time.Time
	CreatedBefore   time.Time
	Page            int
	Limit           int
}

// MaxPage bounds DocumentFilter.Page so the row offset stays far from overflow.
const MaxPage = 1_000_000

// Pagination returns page and limit with defaults applied: page 1, limit 20,
// at most 100. Page is clamped to MaxPage.
func (f DocumentFilter) Pagination() (page, limit int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page = min(max(f.Page, 1), MaxPage)
	return page, limit
}
