package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is what audit sinks receive. Duration is nil for instantaneous operations.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Operation  string         `json:"operation"`
	Actor      string         `json:"actor"`
	SessionID  string         `json:"session_id"`
	DocumentID *uuid.UUID     `json:"document_id,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
	Outcome    string         `json:"outcome"`
}

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
