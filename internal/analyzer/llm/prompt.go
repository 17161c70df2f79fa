package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

const analyzeSystemPrompt = `You are a clinical documentation analyst. Extract clinical entities from the
supplied text. Identifiers have already been replaced with [REDACTED]; never try to
reconstruct them. Respond with a single JSON object:
{
  "entities": {
    "conditions":  [{"text": "...", "code": "ICD-10 code if known", "confidence": 0.0}],
    "medications": [...],
    "procedures":  [...],
    "lab_results": [...],
    "allergies":   [...]
  },
  "category_confidence": {"conditions": 0.0},
  "confidence": 0.0
}
confidence is your overall certainty between 0 and 1. Omit empty categories.`

const matchSystemPrompt = `You evaluate prior-authorization criteria against extracted clinical data.
For each rule decide whether the data satisfies it. Respond with a single JSON object:
{
  "matches": ["rule id", ...],
  "explanations": {"rule id": "one sentence citing the evidence"},
  "criterion_confidence": {"rule id": 0.0},
  "confidence": 0.0,
  "validation_status": "success"
}
Only list rule ids that appear in the input. Use "failed" for validation_status if the
rules cannot be evaluated.`

func analyzeUserPrompt(segment string, index, total int, params map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Segment %d of %d.\n", index, total)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Parameters:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, params[k])
		}
	}
	b.WriteString("\nText:\n")
	b.WriteString(segment)
	return b.String()
}

func matchUserPrompt(in models.MatchInput) (string, error) {
	data, err := json.Marshal(in.ClinicalData)
	if err != nil {
		return "", fmt.Errorf("encoding clinical data: %w", err)
	}
	rules, err := json.Marshal(in.Rules)
	if err != nil {
		return "", fmt.Errorf("encoding rules: %w", err)
	}
	return fmt.Sprintf("Clinical data:\n%s\n\nCriteria rules:\n%s", data, rules), nil
}
