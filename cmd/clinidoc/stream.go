package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kiranshivaraju/clinidoc/internal/apiclient"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream FILE",
	Short: "Analyze a document chunk by chunk",
	Long: `Stream splits the document into chunks on the server and prints one JSON
event per line as each chunk finishes. The command fails if the stream ends
with an error event.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readDocumentText(args[0])
		if err != nil {
			return err
		}
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		params, _ := cmd.Flags().GetStringToString("param")

		return runStream(cmd.Context(), newClient(), apiclient.StreamRequest{
			DocumentText:    text,
			ChunkSize:       chunkSize,
			Parameters:      params,
			SecurityContext: securityContext(cmd),
		}, cmd.OutOrStdout())
	},
}

func init() {
	streamCmd.Flags().Int("chunk-size", 0, "chunk size in runes, 1024 to 8192 (default: server setting)")
	streamCmd.Flags().StringToString("param", nil, "analysis parameter as key=value (repeatable)")

	rootCmd.AddCommand(streamCmd)
}

func runStream(ctx context.Context, c *apiclient.Client, req apiclient.StreamRequest, out io.Writer) error {
	enc := json.NewEncoder(out)
	var last models.StreamEvent
	for ev, err := range c.Stream(ctx, req) {
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		last = ev
	}

	switch {
	case last.Status == models.StreamError && last.Error != nil:
		return fmt.Errorf("stream failed at chunk %d/%d: %s: %s",
			last.ProcessedChunks, last.TotalChunks, last.Error.Code, last.Error.Message)
	case !last.Terminal():
		return fmt.Errorf("stream ended without a terminal event")
	}
	return nil
}
