package models

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the lifecycle state of a document.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusProcessed  ProcessingStatus = "PROCESSED"
	StatusFailed     ProcessingStatus = "FAILED"
)

// ParseStatus accepts the canonical names case-insensitively.
// COMPLETED is an alias for PROCESSED.
func ParseStatus(s string) (ProcessingStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, true
	case "PROCESSING":
		return StatusProcessing, true
	case "PROCESSED", "COMPLETED":
		return StatusProcessed, true
	case "FAILED":
		return StatusFailed, true
	}
	return "", false
}

// DocumentType classifies uploaded clinical documents.
type DocumentType string

const (
	DocumentClinicalNotes  DocumentType = "CLINICAL_NOTES"
	DocumentLabReport      DocumentType = "LAB_REPORT"
	DocumentImagingReport  DocumentType = "IMAGING_REPORT"
	DocumentMedicationList DocumentType = "MEDICATION_LIST"
	DocumentPriorAuthForm  DocumentType = "PRIOR_AUTH_FORM"
	DocumentOther          DocumentType = "OTHER"
)

var documentTypes = []DocumentType{
	DocumentClinicalNotes, DocumentLabReport, DocumentImagingReport,
	DocumentMedicationList, DocumentPriorAuthForm, DocumentOther,
}

// ParseDocumentType returns false for unknown types.
func ParseDocumentType(s string) (DocumentType, bool) {
	t := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	return t, slices.Contains(documentTypes, t)
}

// Audit actions recorded on documents.
const (
	ActionUpload           = "document_upload"
	ActionStatusUpdate     = "status_update"
	ActionAIAnalysisUpdate = "ai_analysis_update"
)

// AuditEntry is one element of a document's append-only audit trail.
type AuditEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Details   map[string]string `json:"details,omitempty"`
}

// DocumentMetadata describes the stored bytes.
type DocumentMetadata struct {
	MimeType    string `json:"mime_type"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// AIAnalysis is the validated analysis payload attached to a document.
type AIAnalysis struct {
	ConfidenceScore    float64        `json:"confidence_score"`
	ExtractedFields    map[string]any `json:"extracted_fields"`
	DetectedConditions []string       `json:"detected_conditions,omitempty"`
	RelevantCriteria   []string       `json:"relevant_criteria,omitempty"`
	AnalysisVersion    string         `json:"analysis_version"`
	AnalyzedAt         time.Time      `json:"analyzed_at"`
	ValidatedAt        time.Time      `json:"validated_at"`
	ValidationScore    *float64       `json:"validation_score,omitempty"`
	ValidatorVersion   string         `json:"validator_version,omitempty"`
}

// Document is the persisted record for an uploaded clinical document.
type Document struct {
	ID                 uuid.UUID         `db:"id"                  json:"id"`
	AuthorizationID    uuid.UUID         `db:"authorization_id"    json:"authorization_id"`
	Metadata           DocumentMetadata  `db:"metadata"            json:"metadata"`
	ContentLocation    string            `db:"content_location"    json:"content_location"`
	DocumentType       DocumentType      `db:"document_type"       json:"document_type"`
	Status             ProcessingStatus  `db:"processing_status"   json:"processing_status"`
	AIAnalysis         *AIAnalysis       `db:"ai_analysis"         json:"ai_analysis"`
	UploadedBy         string            `db:"uploaded_by"         json:"uploaded_by"`
	CreatedAt          time.Time         `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at"          json:"updated_at"`
	AuditTrail         []AuditEntry      `db:"audit_trail"         json:"audit_trail"`
	SecurityMetadata   map[string]string `db:"security_metadata"   json:"security_metadata"`
	ComplianceMetadata map[string]string `db:"compliance_metadata" json:"compliance_metadata"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (d *Document) Clone() *Document {
	c := *d
	c.AuditTrail = slices.Clone(d.AuditTrail)
	for i := range c.AuditTrail {
		c.AuditTrail[i].Details = maps.Clone(c.AuditTrail[i].Details)
	}
	c.SecurityMetadata = maps.Clone(d.SecurityMetadata)
	c.ComplianceMetadata = maps.Clone(d.ComplianceMetadata)
	if d.AIAnalysis != nil {
		a := *d.AIAnalysis
		a.ExtractedFields = maps.Clone(d.AIAnalysis.ExtractedFields)
		a.DetectedConditions = slices.Clone(d.AIAnalysis.DetectedConditions)
		a.RelevantCriteria = slices.Clone(d.AIAnalysis.RelevantCriteria)
		c.AIAnalysis = &a
	}
	return &c
}

// DocumentView is the outward representation of a Document. Sensitive fields
// are nil unless explicitly requested.
type DocumentView struct {
	ID                 uuid.UUID         `json:"id"`
	AuthorizationID    uuid.UUID         `json:"authorization_id"`
	Metadata           DocumentMetadata  `json:"metadata"`
	DocumentType       DocumentType      `json:"document_type"`
	Status             ProcessingStatus  `json:"processing_status"`
	AIAnalysis         *AIAnalysis       `json:"ai_analysis"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ContentLocation    *string           `json:"content_location,omitempty"`
	UploadedBy         *string           `json:"uploaded_by,omitempty"`
	SecurityMetadata   map[string]string `json:"security_metadata,omitempty"`
	ComplianceMetadata map[string]string `json:"compliance_metadata,omitempty"`
	AuditTrail         []AuditEntry      `json:"audit_trail,omitempty"`
}

// Representation builds the field-filtered view. With includeSensitive=false the
// storage location, uploader, security/compliance metadata and audit trail are omitted.
func (d *Document) Representation(includeSensitive bool) DocumentView {
	c := d.Clone()
	v := DocumentView{
		ID:              c.ID,
		AuthorizationID: c.AuthorizationID,
		Metadata:        c.Metadata,
		DocumentType:    c.DocumentType,
		Status:          c.Status,
		AIAnalysis:      c.AIAnalysis,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if !includeSensitive {
		return v
	}
	v.ContentLocation = &c.ContentLocation
	v.UploadedBy = &c.UploadedBy
	v.SecurityMetadata = c.SecurityMetadata
	v.ComplianceMetadata = c.ComplianceMetadata
	v.AuditTrail = c.AuditTrail
	return v
}
