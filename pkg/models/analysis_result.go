package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidInput marks malformed request data. It is never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidSecurityContext is returned when a request carries an incomplete security context.
	ErrInvalidSecurityContext = errors.New("invalid security context")
)

// SecurityContext identifies who is asking. All three fields are required.
type SecurityContext struct {
	UserID      string `json:"user_id"`
	AccessLevel string `json:"access_level"`
	SessionID   string `json:"session_id"`
}

// Validate reports ErrInvalidSecurityContext when any field is blank.
func (sc SecurityContext) Validate() error {
	switch {
	case sc.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidSecurityContext)
	case sc.AccessLevel == "":
		return fmt.Errorf("%w: access_level is required", ErrInvalidSecurityContext)
	case sc.SessionID == "":
		return fmt.Errorf("%w: session_id is required", ErrInvalidSecurityContext)
	}
	return nil
}

// AnalysisRequest is the input to the orchestrator's analyze operation.
type AnalysisRequest struct {
	DocumentText    string            `json:"document_text"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	SecurityContext SecurityContext   `json:"security_context"`
}

// SensitiveSpan records where a redaction happened, never what was redacted.
// Offsets are byte offsets into the input text.
type SensitiveSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Class string `json:"class"`
}

// ConfidenceScores is the reconciled confidence record.
// Overall is the minimum of the source confidences.
type ConfidenceScores struct {
	Overall    float64            `json:"overall"`
	Sources    map[string]float64 `json:"sources"`
	Categories map[string]float64 `json:"categories,omitempty"`
}

// ProcessingMetrics is attached to every result returned to callers.
type ProcessingMetrics struct {
	ProcessingTimeMS int64              `json:"processing_time_ms"`
	SourceConfidence map[string]float64 `json:"source_confidence"`
	SegmentCount     int                `json:"segment_count"`
}

// AuditReference points at the audit event written for a result.
type AuditReference struct {
	AuditID   uuid.UUID `json:"audit_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisResult is the merged output of both analyzers. Immutable once built.
type AnalysisResult struct {
	AnalysisID     uuid.UUID            `json:"analysis_id"`
	Entities       map[string][]Finding `json:"entities"`
	Confidence     ConfidenceScores     `json:"confidence_scores"`
	Metrics        ProcessingMetrics    `json:"processing_metrics"`
	SensitiveSpans []SensitiveSpan      `json:"sensitive_spans"`
	Audit          AuditReference       `json:"audit_trail"`
	CreatedAt      time.Time            `json:"created_at"`
}

// MatchRequest is the input to the criteria matcher.
type MatchRequest struct {
	DocumentAnalysis AnalysisResult  `json:"document_analysis"`
	CriteriaRules    CriteriaRules   `json:"criteria_rules"`
	SecurityContext  SecurityContext `json:"security_context"`
}

// MatchConfidence holds overall (min of sources) and per-criterion (mean of sources) scores.
type MatchConfidence struct {
	Overall     float64            `json:"overall"`
	Sources     map[string]float64 `json:"sources"`
	PerCriteria map[string]float64 `json:"per_criteria"`
}

// MatchResult is the merged matching output. MatchedCriteria never holds duplicates.
type MatchResult struct {
	MatchID            uuid.UUID                    `json:"match_id"`
	MatchedCriteria    []string                     `json:"matched_criteria"`
	Explanations       map[string]string            `json:"explanations"`
	SourceExplanations map[string]map[string]string `json:"source_explanations"`
	Confidence         MatchConfidence              `json:"confidence_scores"`
	Validated          bool                         `json:"validation_status"`
	Metrics            ProcessingMetrics            `json:"processing_metrics"`
	CreatedAt          time.Time                    `json:"created_at"`
}
