package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Documents ---

const documentColumns = `id, authorization_id, metadata, content_location, document_type, processing_status,
	ai_analysis, uploaded_by, created_at, updated_at, audit_trail, security_metadata, compliance_metadata`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.AuthorizationID, &d.Metadata, &d.ContentLocation, &d.DocumentType,
		&d.Status, &d.AIAnalysis, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt, &d.AuditTrail,
		&d.SecurityMetadata, &d.ComplianceMetadata)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// Save inserts a new document.
func (s *PostgresStore) Save(ctx context.Context, d *models.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.AuthorizationID, d.Metadata, d.ContentLocation, d.DocumentType, d.Status,
		d.AIAnalysis, d.UploadedBy, d.CreatedAt, d.UpdatedAt, nonNilEntries(d.AuditTrail),
		nonNilMap(d.SecurityMetadata), nonNilMap(d.ComplianceMetadata))
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter DocumentFilter) ([]*models.Document, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.AuthorizationID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("authorization_id = $%d", argIdx))
		args = append(args, filter.AuthorizationID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("processing_status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.DocumentType != "" {
		conditions = append(conditions, fmt.Sprintf("document_type = $%d", argIdx))
		args = append(args, filter.DocumentType)
		argIdx++
	}
	if filter.UploadedBy != "" {
		conditions = append(conditions, fmt.Sprintf("uploaded_by = $%d", argIdx))
		args = append(args, filter.UploadedBy)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, filter.CreatedBefore)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	page, limit := filter.Pagination()
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM documents WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		documentColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

// AtomicUpdateStatus moves a document from expected to next and appends entry,
// only if the stored status still equals expected.
func (s *PostgresStore) AtomicUpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.ProcessingStatus, entry models.AuditEntry, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
		 SET processing_status = $3, updated_at = $4, audit_trail = audit_trail || $5::jsonb
		 WHERE id = $1 AND processing_status = $2`,
		id, expected, next, at, []models.AuditEntry{entry})
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// UpdateAnalysis writes w in a single statement.
func (s *PostgresStore) UpdateAnalysis(ctx context.Context, id uuid.UUID, w AnalysisWrite) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if w.Transition == nil {
		tag, err = s.pool.Exec(ctx,
			`UPDATE documents
			 SET ai_analysis = $2, updated_at = $3, audit_trail = audit_trail || $4::jsonb
			 WHERE id = $1`,
			id, w.Analysis, w.At, nonNilEntries(w.Entries))
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE documents
			 SET ai_analysis = $2, updated_at = $3, audit_trail = audit_trail || $4::jsonb, processing_status = $6
			 WHERE id = $1 AND processing_status = $5`,
			id, w.Analysis, w.At, nonNilEntries(w.Entries), w.Transition.From, w.Transition.To)
	}
	if err != nil {
		return fmt.Errorf("update document analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// missOrConflict explains a compare-and-swap that touched no rows.
func (s *PostgresStore) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

// --- API Clients ---

func (s *PostgresStore) GetAPIClientsByPrefix(ctx context.Context, prefix string) ([]*models.APIClient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, revoked_at, created_at
		 FROM api_clients WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api clients by prefix: %w", err)
	}
	defer rows.Close()

	var clients []*models.APIClient
	for rows.Next() {
		var c models.APIClient
		if err := rows.Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &c.Scopes,
			&c.LastUsedAt, &c.RevokedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api client: %w", err)
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}

func (s *PostgresStore) UpdateAPIClientLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api client last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIClient(ctx context.Context, c *models.APIClient) error {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_clients (id, name, key_hash, key_prefix, scopes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.KeyHash, c.KeyPrefix, scopes, c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api client: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIClient(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_clients SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func nonNilEntries(e []models.AuditEntry) []models.AuditEntry {
	if e == nil {
		return []models.AuditEntry{}
	}
	return e
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
