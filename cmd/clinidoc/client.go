package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/apiclient"
	"github.com/kiranshivaraju/clinidoc/internal/extract"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newClient() *apiclient.Client {
	return apiclient.New(viper.GetString("server"), viper.GetString("api-key"), apiclient.Options{
		Timeout:    viper.GetDuration("timeout"),
		MaxRetries: viper.GetUint64("retries"),
	})
}

// securityContext builds the context sent with analysis requests. Without
// --session every invocation gets its own session id.
func securityContext(cmd *cobra.Command) models.SecurityContext {
	session, _ := cmd.Flags().GetString("session")
	if session == "" {
		session = uuid.NewString()
	}
	return models.SecurityContext{
		UserID:      viper.GetString("user"),
		AccessLevel: viper.GetString("access-level"),
		SessionID:   session,
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// readDocumentText loads a plain text or PDF document. "-" reads stdin.
func readDocumentText(path string) (string, error) {
	data, err := readInput(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text, err := extract.Text(extract.MimeType(data), data)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return text, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
