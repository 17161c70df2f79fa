// Package main is the operator CLI for the clinidoc API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the clinidoc CLI.
var rootCmd = &cobra.Command{
	Use:   "clinidoc",
	Short: "Operator CLI for the clinical document analysis API",
	Long: `clinidoc talks to a running clinidoc server. It sends documents for
analysis, matches analyses against criteria rule sets, follows streaming
analyses and manages stored documents.

Key management and audit inspection connect to the database directly and
need --database-url.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./clinidoc.yaml or ~/.config/clinidoc/config.yaml)")
	pf.String("server", "http://localhost:8080", "base URL of the clinidoc API")
	pf.String("api-key", "", "API key sent as a bearer token")
	pf.Duration("timeout", 2*time.Minute, "per-request timeout")
	pf.Uint64("retries", 2, "retries on 429 and 503 responses")
	pf.String("user", "", "security context user id (default: $USER)")
	pf.String("access-level", "clinician", "security context access level")
	pf.String("session", "", "security context session id (default: random)")
	pf.String("database-url", "", "PostgreSQL URL for key and audit commands")

	for _, name := range []string{"server", "api-key", "timeout", "retries", "user", "access-level", "database-url"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
	viper.SetDefault("user", os.Getenv("USER"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("clinidoc")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "clinidoc"))
		}
	}

	viper.SetEnvPrefix("CLINIDOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
