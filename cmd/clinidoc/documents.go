package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/apiclient"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage stored clinical documents",
}

var documentsGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a stored document",
	Long: `Get prints a document record. --include-sensitive adds the storage
location, uploader, security metadata and audit trail, and needs an API key
with the phi:read scope.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		sensitive, _ := cmd.Flags().GetBool("include-sensitive")

		view, err := newClient().GetDocument(cmd.Context(), id, sensitive)
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), view)
	},
}

var documentsUploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a document for an authorization",
	Long: `Upload stores a document against a prior authorization. The server
detects the content type; PDF, plain text and common image formats are
accepted. With --process, background analysis starts right after upload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authRaw, _ := cmd.Flags().GetString("authorization-id")
		authID, err := uuid.Parse(authRaw)
		if err != nil {
			return fmt.Errorf("invalid --authorization-id %q", authRaw)
		}
		typeRaw, _ := cmd.Flags().GetString("type")
		docType, ok := models.ParseDocumentType(typeRaw)
		if !ok {
			return fmt.Errorf("unknown document type %q", typeRaw)
		}
		meta, _ := cmd.Flags().GetStringToString("meta")
		process, _ := cmd.Flags().GetBool("process")

		content, err := readInput(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var sc *models.SecurityContext
		if process {
			s := securityContext(cmd)
			sc = &s
		}
		return runUpload(cmd.Context(), newClient(), apiclient.Upload{
			AuthorizationID:  authID,
			DocumentType:     docType,
			Filename:         filepath.Base(args[0]),
			Content:          content,
			SecurityMetadata: meta,
		}, sc, cmd.OutOrStdout())
	},
}

var documentsProcessCmd = &cobra.Command{
	Use:   "process ID",
	Short: "Start background analysis of a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		if err := newClient().ProcessDocument(cmd.Context(), id, securityContext(cmd)); err != nil {
			return fmt.Errorf("process document: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processing started for %s\n", id)
		return nil
	},
}

func init() {
	documentsGetCmd.Flags().Bool("include-sensitive", false, "include sensitive fields (needs phi:read)")

	documentsUploadCmd.Flags().String("authorization-id", "", "prior authorization the document belongs to")
	documentsUploadCmd.Flags().String("type", string(models.DocumentClinicalNotes), "document type, e.g. CLINICAL_NOTES or LAB_REPORT")
	documentsUploadCmd.Flags().StringToString("meta", nil, "security metadata as key=value (repeatable)")
	documentsUploadCmd.Flags().Bool("process", false, "start analysis after upload")
	_ = documentsUploadCmd.MarkFlagRequired("authorization-id")

	documentsCmd.AddCommand(documentsGetCmd, documentsUploadCmd, documentsProcessCmd)
	rootCmd.AddCommand(documentsCmd)
}

// runUpload uploads the document and, when sc is set, starts processing it.
func runUpload(ctx context.Context, c *apiclient.Client, u apiclient.Upload, sc *models.SecurityContext, out io.Writer) error {
	view, err := c.UploadDocument(ctx, u)
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	if sc != nil {
		if err := c.ProcessDocument(ctx, view.ID, *sc); err != nil {
			return fmt.Errorf("document %s uploaded, processing failed to start: %w", view.ID, err)
		}
	}
	return printJSON(out, view)
}
