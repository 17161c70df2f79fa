package analyzer_test

import (
	"testing"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestUnionFindings(t *testing.T) {
	llm := map[string][]models.Finding{
		"conditions":  {{Text: "Diabetes", Code: "E11"}},
		"medications": {{Text: "metformin"}},
	}
	clinical := map[string][]models.Finding{
		"conditions": {{Text: "diabetes"}, {Text: "hypertension"}},
		"procedures": {{Text: "MRI"}},
	}

	got := analyzer.UnionFindings(llm, clinical)

	assert.Equal(t, []models.Finding{{Text: "Diabetes", Code: "E11"}, {Text: "hypertension"}}, got["conditions"])
	assert.Equal(t, []models.Finding{{Text: "metformin"}}, got["medications"])
	assert.Equal(t, []models.Finding{{Text: "MRI"}}, got["procedures"])
	// inputs untouched
	assert.Len(t, clinical["conditions"], 2)
}

func TestUnionFindings_DropsBlankText(t *testing.T) {
	got := analyzer.UnionFindings(map[string][]models.Finding{"conditions": {{Text: "  "}}})
	assert.Equal(t, []models.Finding{}, got["conditions"])
}
