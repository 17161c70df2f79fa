package orchestrator

import (
	"maps"
	"slices"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// mergeAnalysis combines source outputs. Findings are unioned per category in
// source order. Overall confidence is the lowest source confidence; each
// category takes the lowest confidence among the sources reporting it, where
// a source without an explicit category score contributes its overall score.
func (o *Orchestrator) mergeAnalysis(outs []models.AnalyzerOutput) *models.AnalysisResult {
	sets := make([]map[string][]models.Finding, len(outs))
	sources := make(map[string]float64, len(outs))
	categories := map[string]float64{}
	overall := 1.0

	for i, out := range outs {
		name := o.sources[i].Name()
		sets[i] = out.Entities
		sources[name] = out.Confidence
		overall = min(overall, out.Confidence)

		for category := range out.Entities {
			c, ok := out.CategoryConfidence[category]
			if !ok {
				c = out.Confidence
			}
			if prev, seen := categories[category]; !seen || c < prev {
				categories[category] = c
			}
		}
		for category, c := range out.CategoryConfidence {
			if _, reported := out.Entities[category]; reported {
				continue
			}
			if prev, seen := categories[category]; !seen || c < prev {
				categories[category] = c
			}
		}
	}
	if len(outs) == 0 {
		overall = 0
	}

	return &models.AnalysisResult{
		Entities: analyzer.UnionFindings(sets...),
		Confidence: models.ConfidenceScores{
			Overall:    overall,
			Sources:    sources,
			Categories: categories,
		},
		Metrics: models.ProcessingMetrics{SourceConfidence: maps.Clone(sources)},
	}
}

// mergeMatch combines matching outputs. Matched ids are unioned in source
// order without duplicates; explanations are overlaid so later sources win;
// per-criterion confidence is the mean across sources, a source that did not
// score a criterion counting as 0.
func (o *Orchestrator) mergeMatch(outs []models.MatchOutput, rules models.CriteriaRules) *models.MatchResult {
	res := &models.MatchResult{
		MatchedCriteria:    []string{},
		Explanations:       map[string]string{},
		SourceExplanations: map[string]map[string]string{},
		Confidence: models.MatchConfidence{
			Sources:     map[string]float64{},
			PerCriteria: map[string]float64{},
		},
		Metrics: models.ProcessingMetrics{SourceConfidence: map[string]float64{}},
	}

	overall := 1.0
	validated := len(outs) > 0
	criteria := map[string]bool{}
	for _, r := range rules.Rules {
		criteria[r.ID] = true
	}

	for i, out := range outs {
		name := o.sources[i].Name()
		overall = min(overall, out.Confidence)
		res.Confidence.Sources[name] = out.Confidence
		res.Metrics.SourceConfidence[name] = out.Confidence
		if out.ValidationStatus != models.ValidationSuccess {
			validated = false
		}

		for _, id := range out.Matches {
			if id != "" && !slices.Contains(res.MatchedCriteria, id) {
				res.MatchedCriteria = append(res.MatchedCriteria, id)
			}
		}

		explanations := make(map[string]string, len(out.Explanations))
		for id, text := range out.Explanations {
			explanations[id] = text
			res.Explanations[id] = text
		}
		res.SourceExplanations[name] = explanations

		for id := range out.CriterionConfidence {
			criteria[id] = true
		}
	}
	if len(outs) == 0 {
		overall = 0
	}
	res.Confidence.Overall = overall
	res.Validated = validated

	for id := range criteria {
		if id == "" {
			continue
		}
		var sum float64
		for _, out := range outs {
			sum += out.CriterionConfidence[id]
		}
		if len(outs) > 0 {
			res.Confidence.PerCriteria[id] = sum / float64(len(outs))
		}
	}
	return res
}
