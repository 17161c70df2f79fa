// Package mock provides an in-process Analyzer for tests and local development.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// Analyzer satisfies models.Analyzer. Calls counts every Analyze and Match invocation.
type Analyzer struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error)
	MatchFunc   func(ctx context.Context, in models.MatchInput) (models.MatchOutput, error)

	analyzeCalls atomic.Int64
	matchCalls   atomic.Int64
}

func (m *Analyzer) Name() string { return m.Name_ }

func (m *Analyzer) Analyze(ctx context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
	m.analyzeCalls.Add(1)
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, in)
	}
	return models.AnalyzerOutput{Entities: map[string][]models.Finding{}}, nil
}

func (m *Analyzer) Match(ctx context.Context, in models.MatchInput) (models.MatchOutput, error) {
	m.matchCalls.Add(1)
	if m.MatchFunc != nil {
		return m.MatchFunc(ctx, in)
	}
	return models.MatchOutput{ValidationStatus: models.ValidationSuccess}, nil
}

// AnalyzeCalls returns how many times Analyze ran.
func (m *Analyzer) AnalyzeCalls() int64 { return m.analyzeCalls.Load() }

// MatchCalls returns how many times Match ran.
func (m *Analyzer) MatchCalls() int64 { return m.matchCalls.Load() }

// keywords drives the default mock extraction.
var keywords = map[string]string{
	"diabetes":     "conditions",
	"hypertension": "conditions",
	"asthma":       "conditions",
	"metformin":    "medications",
	"lisinopril":   "medications",
	"insulin":      "medications",
	"mri":          "procedures",
	"biopsy":       "procedures",
}

// New returns an Analyzer that finds a fixed keyword list and reports the given confidence.
// Matching marks every rule whose id or description appears in the clinical data.
func New(name string, confidence float64) *Analyzer {
	return &Analyzer{
		Name_: name,
		AnalyzeFunc: func(_ context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
			lower := strings.ToLower(in.Text)
			entities := map[string][]models.Finding{}
			for word, category := range keywords {
				if strings.Contains(lower, word) {
					entities[category] = append(entities[category], models.Finding{Text: word, Confidence: confidence})
				}
			}
			for _, findings := range entities {
				sort.Slice(findings, func(i, j int) bool { return findings[i].Text < findings[j].Text })
			}
			return models.AnalyzerOutput{Entities: entities, Confidence: confidence}, nil
		},
		MatchFunc: func(_ context.Context, in models.MatchInput) (models.MatchOutput, error) {
			var haystack strings.Builder
			for _, findings := range in.ClinicalData {
				for _, f := range findings {
					haystack.WriteString(strings.ToLower(f.Text))
					haystack.WriteByte(' ')
				}
			}
			out := models.MatchOutput{
				Explanations:        map[string]string{},
				CriterionConfidence: map[string]float64{},
				Confidence:          confidence,
				ValidationStatus:    models.ValidationSuccess,
			}
			for _, rule := range in.Rules.Rules {
				if strings.Contains(haystack.String(), strings.ToLower(rule.ID)) ||
					(rule.Description != "" && strings.Contains(haystack.String(), strings.ToLower(rule.Description))) {
					out.Matches = append(out.Matches, rule.ID)
					out.Explanations[rule.ID] = name + " found supporting evidence"
					out.CriterionConfidence[rule.ID] = confidence
				}
			}
			return out, nil
		},
	}
}

// NewFailing returns an Analyzer whose calls all fail with err.
func NewFailing(name string, err error) *Analyzer {
	return &Analyzer{
		Name_: name,
		AnalyzeFunc: func(_ context.Context, _ models.AnalyzeInput) (models.AnalyzerOutput, error) {
			return models.AnalyzerOutput{}, err
		},
		MatchFunc: func(_ context.Context, _ models.MatchInput) (models.MatchOutput, error) {
			return models.MatchOutput{}, err
		},
	}
}

// NewTimeout returns an Analyzer that blocks until its context is done.
func NewTimeout(name string) *Analyzer {
	return &Analyzer{
		Name_: name,
		AnalyzeFunc: func(ctx context.Context, _ models.AnalyzeInput) (models.AnalyzerOutput, error) {
			<-ctx.Done()
			return models.AnalyzerOutput{}, analyzer.NewError(name, analyzer.KindTimeout, ctx.Err())
		},
		MatchFunc: func(ctx context.Context, _ models.MatchInput) (models.MatchOutput, error) {
			<-ctx.Done()
			return models.MatchOutput{}, analyzer.NewError(name, analyzer.KindTimeout, ctx.Err())
		},
	}
}

// Compile-time check that Analyzer implements models.Analyzer.
var _ models.Analyzer = (*Analyzer)(nil)
