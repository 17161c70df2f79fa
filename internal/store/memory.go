package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// MemoryStore is an in-process Store for tests and local runs. Documents are
// cloned on the way in and out.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*models.Document
	clients map[uuid.UUID]*models.APIClient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    map[uuid.UUID]*models.Document{},
		clients: map[uuid.UUID]*models.APIClient{},
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[d.ID]; ok {
		return ErrDuplicateKey
	}
	m.docs[d.ID] = d.Clone()
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f DocumentFilter) ([]*models.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Document
	for _, d := range m.docs {
		switch {
		case f.AuthorizationID != uuid.Nil && d.AuthorizationID != f.AuthorizationID,
			f.Status != "" && d.Status != f.Status,
			f.DocumentType != "" && d.DocumentType != f.DocumentType,
			f.UploadedBy != "" && d.UploadedBy != f.UploadedBy,
			!f.CreatedAfter.IsZero() && d.CreatedAt.Before(f.CreatedAfter),
			!f.CreatedBefore.IsZero() && !d.CreatedAt.Before(f.CreatedBefore):
			continue
		}
		matched = append(matched, d)
	}
	slices.SortFunc(matched, func(a, b *models.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	page, limit := f.Pagination()
	total := len(matched)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	out := make([]*models.Document, 0, end-start)
	for _, d := range matched[start:end] {
		out = append(out, d.Clone())
	}
	return out, total, nil
}

func (m *MemoryStore) AtomicUpdateStatus(_ context.Context, id uuid.UUID, expected, next models.ProcessingStatus, entry models.AuditEntry, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != expected {
		return ErrStatusConflict
	}
	d.Status = next
	d.UpdatedAt = at
	d.AuditTrail = append(d.AuditTrail, entry)
	return nil
}

func (m *MemoryStore) UpdateAnalysis(_ context.Context, id uuid.UUID, w AnalysisWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if w.Transition != nil {
		if d.Status != w.Transition.From {
			return ErrStatusConflict
		}
		d.Status = w.Transition.To
	}
	if w.Analysis != nil {
		d.AIAnalysis = (&models.Document{AIAnalysis: w.Analysis}).Clone().AIAnalysis
	} else {
		d.AIAnalysis = nil
	}
	d.UpdatedAt = w.At
	d.AuditTrail = append(d.AuditTrail, w.Entries...)
	return nil
}

func (m *MemoryStore) GetAPIClientsByPrefix(_ context.Context, prefix string) ([]*models.APIClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIClient
	for _, c := range m.clients {
		if c.KeyPrefix == prefix && c.Active() {
			cp := *c
			cp.Scopes = slices.Clone(c.Scopes)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAPIClientLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		now := time.Now().UTC()
		c.LastUsedAt = &now
	}
	return nil
}

func (m *MemoryStore) CreateAPIClient(_ context.Context, c *models.APIClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return ErrDuplicateKey
	}
	for _, existing := range m.clients {
		if existing.KeyHash == c.KeyHash {
			return ErrDuplicateKey
		}
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	m.clients[c.ID] = &cp
	return nil
}

func (m *MemoryStore) RevokeAPIClient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || !c.Active() {
		return ErrNotFound
	}
	c.Revoke(time.Now().UTC())
	return nil
}

var _ Store = (*MemoryStore)(nil)
