package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// ValidationInfo describes who validated an analysis payload.
type ValidationInfo struct {
	Score            *float64 `json:"validation_score,omitempty"`
	ValidatorVersion string   `json:"validator_version,omitempty"`
}

// AnalysisUpdate is a request to attach AI analysis results to a document.
// Results is free-form and must carry confidence_score, extracted_fields and
// analysis_version. Complete moves the document from PROCESSING to PROCESSED.
type AnalysisUpdate struct {
	Results    map[string]any `json:"results"`
	Validation ValidationInfo `json:"validation"`
	Complete   bool           `json:"complete"`
	Reason     string         `json:"reason,omitempty"`
}

// unitInterval is false for NaN as well as for values outside [0, 1].
func unitInterval(v float64) bool { return v >= 0 && v <= 1 }

// Validate checks Results and builds the stored analysis, stamped with validatedAt.
func (u AnalysisUpdate) Validate(validatedAt time.Time) (*models.AIAnalysis, error) {
	if u.Results == nil {
		return nil, &ValidationError{Field: "results", Reason: "required"}
	}

	score, ok := number(u.Results["confidence_score"])
	switch {
	case !ok:
		return nil, &ValidationError{Field: "confidence_score", Reason: "required numeric value"}
	case !unitInterval(score):
		return nil, &ValidationError{Field: "confidence_score", Reason: fmt.Sprintf("%v is outside [0, 1]", score)}
	}

	fields, ok := u.Results["extracted_fields"].(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "extracted_fields", Reason: "required object"}
	}

	version, _ := u.Results["analysis_version"].(string)
	if strings.TrimSpace(version) == "" {
		return nil, &ValidationError{Field: "analysis_version", Reason: "required string"}
	}

	if s := u.Validation.Score; s != nil && !unitInterval(*s) {
		return nil, &ValidationError{Field: "validation_score", Reason: fmt.Sprintf("%v is outside [0, 1]", *s)}
	}

	a := &models.AIAnalysis{
		ConfidenceScore:    score,
		ExtractedFields:    fields,
		DetectedConditions: stringList(u.Results["detected_conditions"]),
		RelevantCriteria:   stringList(u.Results["relevant_criteria"]),
		AnalysisVersion:    version,
		AnalyzedAt:         validatedAt,
		ValidatedAt:        validatedAt,
		ValidationScore:    u.Validation.Score,
		ValidatorVersion:   u.Validation.ValidatorVersion,
	}
	if ts, ok := u.Results["analyzed_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			a.AnalyzedAt = t.UTC()
		}
	}
	return a, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
