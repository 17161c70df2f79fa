// Package models contains shared data models used across the clinidoc codebase.
package models

import (
	"context"
	"encoding/json"
)

// Analyzer is the capability both model clients implement. The orchestrator
// only ever talks to analyzers through this interface.
type Analyzer interface {
	// Analyze extracts clinical entities from normalized text.
	Analyze(ctx context.Context, req AnalyzeInput) (AnalyzerOutput, error)
	// Match evaluates prior analysis output against a criteria rule set.
	Match(ctx context.Context, req MatchInput) (MatchOutput, error)
	// Name returns the analyzer identifier (e.g., "llm", "clinical").
	Name() string
}

// AnalyzeInput is what an analyzer receives: redacted text plus its segments.
type AnalyzeInput struct {
	Text       string
	Segments   []string
	Parameters map[string]string
}

// Finding is a single extracted entity.
type Finding struct {
	Text       string  `json:"text"`
	Code       string  `json:"code,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AnalyzerOutput is one analyzer's answer for a document.
// Confidence is always within [0, 1]; 0 when the analyzer produced no score.
type AnalyzerOutput struct {
	Entities           map[string][]Finding `json:"entities"`
	Confidence         float64              `json:"confidence"`
	CategoryConfidence map[string]float64   `json:"category_confidence,omitempty"`
	Raw                json.RawMessage      `json:"raw,omitempty"`
}

// Criterion is one rule inside a criteria rule set.
type Criterion struct {
	ID          string `json:"id"          yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required"    yaml:"required"`
}

// CriteriaRules is the rule set a document is matched against.
type CriteriaRules struct {
	CriteriaType string      `json:"criteria_type" yaml:"criteria_type"`
	Rules        []Criterion `json:"rules"         yaml:"rules"`
}

// MatchInput is what an analyzer receives in matching mode.
type MatchInput struct {
	ClinicalData map[string][]Finding
	Rules        CriteriaRules
}

// Validation statuses reported by analyzers in matching mode.
const (
	ValidationSuccess = "success"
	ValidationFailed  = "failed"
)

// MatchOutput is one analyzer's matching answer.
type MatchOutput struct {
	Matches             []string           `json:"matches"`
	Explanations        map[string]string  `json:"explanations"`
	Confidence          float64            `json:"confidence"`
	CriterionConfidence map[string]float64 `json:"criterion_confidence,omitempty"`
	ValidationStatus    string             `json:"validation_status"`
}
