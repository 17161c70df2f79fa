package main

import (
	"context"
	"fmt"
	"io"

	"github.com/kiranshivaraju/clinidoc/internal/apiclient"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Analyze a clinical document",
	Long: `Analyze sends a plain text or PDF document through both analyzers and
prints the merged result as JSON. Use "-" to read the document from stdin.
The output can be passed to "clinidoc match --analysis".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readDocumentText(args[0])
		if err != nil {
			return err
		}
		params, _ := cmd.Flags().GetStringToString("param")

		return runAnalyze(cmd.Context(), newClient(), models.AnalysisRequest{
			DocumentText:    text,
			Parameters:      params,
			SecurityContext: securityContext(cmd),
		}, cmd.OutOrStdout())
	},
}

func init() {
	analyzeCmd.Flags().StringToString("param", nil, "analysis parameter as key=value (repeatable)")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, c *apiclient.Client, req models.AnalysisRequest, out io.Writer) error {
	res, err := c.Analyze(ctx, req)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return printJSON(out, res)
}
