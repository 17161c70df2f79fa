package analyzer

import (
	"strings"

	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// UnionFindings combines entity maps category by category. Findings keep the
// order of the input sets; a finding whose text (case-insensitive) already
// exists in the category is dropped. Inputs are not modified.
func UnionFindings(sets ...map[string][]models.Finding) map[string][]models.Finding {
	out := make(map[string][]models.Finding)
	seen := make(map[string]map[string]bool)
	for _, set := range sets {
		for category, findings := range set {
			if seen[category] == nil {
				seen[category] = make(map[string]bool)
			}
			if _, ok := out[category]; !ok {
				out[category] = []models.Finding{}
			}
			for _, f := range findings {
				key := strings.ToLower(strings.TrimSpace(f.Text))
				if key == "" || seen[category][key] {
					continue
				}
				seen[category][key] = true
				out[category] = append(out[category], f)
			}
		}
	}
	return out
}
