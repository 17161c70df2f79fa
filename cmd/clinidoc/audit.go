package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/clinidoc/internal/config"
	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the analysis audit log",
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest audit events",
	Long: `Recent prints the newest analysis audit events, newest first. Events
carry actor, session, operation and outcome only; document text is never
logged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		pool, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		events, err := store.NewAuditLog(pool).Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), events)
		}
		return printAuditTable(cmd.OutOrStdout(), events)
	},
}

func init() {
	auditRecentCmd.Flags().Int("limit", 20, "number of events, at most 100")
	auditRecentCmd.Flags().Bool("json", false, "output events as JSON")

	auditCmd.AddCommand(auditRecentCmd)
	rootCmd.AddCommand(auditCmd)
}

func openDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	url := viper.GetString("database-url")
	if url == "" {
		return nil, errors.New("--database-url (or CLINIDOC_DATABASE_URL) is required")
	}
	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             url,
		MaxOpenConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

func printAuditTable(w io.Writer, events []models.AuditEvent) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tACTOR\tSESSION\tOUTCOME\tDURATION")
	for _, e := range events {
		dur := "-"
		if e.Duration != nil {
			dur = e.Duration.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Operation, e.Actor, e.SessionID, e.Outcome, dur)
	}
	return tw.Flush()
}
