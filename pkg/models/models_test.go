package models_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityContext_Validate(t *testing.T) {
	valid := models.SecurityContext{UserID: "u1", AccessLevel: "clinician", SessionID: "s1"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		ctx   models.SecurityContext
		field string
	}{
		{"missing user", models.SecurityContext{AccessLevel: "a", SessionID: "s"}, "user_id"},
		{"missing access level", models.SecurityContext{UserID: "u", SessionID: "s"}, "access_level"},
		{"missing session", models.SecurityContext{UserID: "u", AccessLevel: "a"}, "session_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidSecurityContext))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := models.ParseStatus("completed")
	assert.True(t, ok)
	assert.Equal(t, models.StatusProcessed, s)

	s, ok = models.ParseStatus(" pending ")
	assert.True(t, ok)
	assert.Equal(t, models.StatusPending, s)

	_, ok = models.ParseStatus("ARCHIVED")
	assert.False(t, ok)
}

func TestParseDocumentType(t *testing.T) {
	dt, ok := models.ParseDocumentType("lab_report")
	assert.True(t, ok)
	assert.Equal(t, models.DocumentLabReport, dt)

	_, ok = models.ParseDocumentType("selfie")
	assert.False(t, ok)
}

func sampleDocument() *models.Document {
	now := time.Now().UTC()
	return &models.Document{
		ID:              uuid.New(),
		AuthorizationID: uuid.New(),
		Metadata:        models.DocumentMetadata{MimeType: "text/plain", Filename: "note.txt", Size: 10},
		ContentLocation: "documents/a/b/note.txt",
		DocumentType:    models.DocumentClinicalNotes,
		Status:          models.StatusPending,
		UploadedBy:      "dr-house",
		CreatedAt:       now,
		UpdatedAt:       now,
		AuditTrail: []models.AuditEntry{
			{Timestamp: now, Action: models.ActionUpload, Actor: "dr-house", Details: map[string]string{"filename": "note.txt"}},
		},
		SecurityMetadata: map[string]string{"classification": "phi"},
	}
}

func TestRepresentation_OmitsSensitiveFields(t *testing.T) {
	doc := sampleDocument()

	v := doc.Representation(false)
	assert.Equal(t, doc.ID, v.ID)
	assert.Nil(t, v.ContentLocation)
	assert.Nil(t, v.UploadedBy)
	assert.Nil(t, v.SecurityMetadata)
	assert.Nil(t, v.AuditTrail)

	full := doc.Representation(true)
	require.NotNil(t, full.ContentLocation)
	assert.Equal(t, "documents/a/b/note.txt", *full.ContentLocation)
	require.NotNil(t, full.UploadedBy)
	assert.Equal(t, "dr-house", *full.UploadedBy)
	assert.Len(t, full.AuditTrail, 1)
	assert.Equal(t, "phi", full.SecurityMetadata["classification"])
}

func TestRepresentation_DoesNotAliasDocument(t *testing.T) {
	doc := sampleDocument()
	v := doc.Representation(true)
	v.AuditTrail[0].Details["filename"] = "changed"
	v.SecurityMetadata["classification"] = "public"

	assert.Equal(t, "note.txt", doc.AuditTrail[0].Details["filename"])
	assert.Equal(t, "phi", doc.SecurityMetadata["classification"])
}

func TestClone_DeepCopiesAnalysis(t *testing.T) {
	doc := sampleDocument()
	doc.AIAnalysis = &models.AIAnalysis{ConfidenceScore: 0.9, ExtractedFields: map[string]any{"dx": "copd"}, AnalysisVersion: "1"}

	c := doc.Clone()
	c.AIAnalysis.ExtractedFields["dx"] = "asthma"
	c.AIAnalysis.ConfidenceScore = 0.1

	assert.Equal(t, "copd", doc.AIAnalysis.ExtractedFields["dx"])
	assert.Equal(t, 0.9, doc.AIAnalysis.ConfidenceScore)
}

func TestAPIClient_Revoke(t *testing.T) {
	c := &models.APIClient{ID: uuid.New(), Name: "ehr-bridge"}
	assert.True(t, c.Active())

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.Revoke(first)
	c.Revoke(first.Add(time.Hour))

	assert.False(t, c.Active())
	assert.Equal(t, first, *c.RevokedAt)
}

func TestKnownScope(t *testing.T) {
	assert.True(t, models.KnownScope(models.ScopePHIRead))
	assert.False(t, models.KnownScope("phi:write"))
}

func TestStreamEvent_ErrorIsTerminal(t *testing.T) {
	ev := models.StreamEvent{
		Sequence: 3,
		Status:   models.StreamError,
		Error:    &models.StreamFailure{Code: "ANALYZER_ERROR", Message: "an analyzer failed"},
	}
	assert.True(t, ev.Terminal())
	assert.True(t, models.StreamEvent{Status: models.StreamCompleted}.Terminal())
	assert.False(t, models.StreamEvent{Status: models.StreamInProgress}.Terminal())

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"error"`)
	assert.Contains(t, string(b), `"error":{"code":"ANALYZER_ERROR","message":"an analyzer failed"}`)
}
