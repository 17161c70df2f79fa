package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ScopePHIRead allows the sensitive document representation.
const ScopePHIRead = "phi:read"

// Scopes lists every scope a client can be granted.
var Scopes = []string{ScopePHIRead}

// KnownScope reports whether s is one of Scopes.
func KnownScope(s string) bool { return slices.Contains(Scopes, s) }

// APIClient is a service account that calls the analysis API. Only the
// bcrypt hash of its key is kept; the first KeyPrefix characters are stored
// in clear so a request can find its candidate rows without a full scan.
type APIClient struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}

// Active is false once the client has been revoked.
func (c *APIClient) Active() bool { return c.RevokedAt == nil }

// Revoke marks the client revoked at t. Revoking twice keeps the first time.
func (c *APIClient) Revoke(t time.Time) {
	if c.RevokedAt == nil {
		c.RevokedAt = &t
	}
}
