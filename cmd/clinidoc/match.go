package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kiranshivaraju/clinidoc/internal/apiclient"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a document analysis against a criteria rule set",
	Long: `Match reads an analysis result (the JSON printed by "clinidoc analyze")
and a YAML rule set, and prints which criteria the document satisfies.

Rule set format:

  criteria_type: medical_necessity
  rules:
    - id: dx-htn
      description: Diagnosed hypertension
      required: true`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		analysisPath, _ := cmd.Flags().GetString("analysis")
		rulesPath, _ := cmd.Flags().GetString("rules")

		analysis, err := loadAnalysis(analysisPath)
		if err != nil {
			return err
		}
		rules, err := loadRules(rulesPath)
		if err != nil {
			return err
		}

		return runMatch(cmd.Context(), newClient(), models.MatchRequest{
			DocumentAnalysis: *analysis,
			CriteriaRules:    rules,
			SecurityContext:  securityContext(cmd),
		}, cmd.OutOrStdout())
	},
}

func init() {
	matchCmd.Flags().String("analysis", "", "analysis result JSON file (\"-\" for stdin)")
	matchCmd.Flags().String("rules", "", "criteria rule set YAML file")
	_ = matchCmd.MarkFlagRequired("analysis")
	_ = matchCmd.MarkFlagRequired("rules")

	rootCmd.AddCommand(matchCmd)
}

func runMatch(ctx context.Context, c *apiclient.Client, req models.MatchRequest, out io.Writer) error {
	res, err := c.Match(ctx, req)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	return printJSON(out, res)
}

func loadAnalysis(path string) (*models.AnalysisResult, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("read analysis: %w", err)
	}
	var res models.AnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse analysis %s: %w", path, err)
	}
	return &res, nil
}

// loadRules parses a YAML rule set. Unknown keys are rejected and rule ids
// must be unique.
func loadRules(path string) (models.CriteriaRules, error) {
	var rules models.CriteriaRules

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return rules, fmt.Errorf("parse rules %s: %w", path, err)
	}

	if len(rules.Rules) == 0 {
		return rules, fmt.Errorf("rules %s: no rules defined", path)
	}
	seen := make(map[string]bool, len(rules.Rules))
	for i, r := range rules.Rules {
		if r.ID == "" {
			return rules, fmt.Errorf("rules %s: rule %d has no id", path, i+1)
		}
		if seen[r.ID] {
			return rules, fmt.Errorf("rules %s: duplicate rule id %q", path, r.ID)
		}
		seen[r.ID] = true
	}
	return rules, nil
}
