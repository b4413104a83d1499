// Package cmd provides the CLI commands for Trailblazer.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the trailblazer CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trailblazer",
		Short: "Documentation pipeline and hybrid retrieval",
		Long: `Trailblazer ingests heterogeneous documentation corpora through a
deterministic pipeline (ingest → normalize → enrich → chunk → embed) and
serves hybrid dense + BM25 retrieval over the result.

Phases are independently invocable per run; 'trailblazer worker' drains a
backlog of runs using the claim protocol.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("trailblazer version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")

	cmd.AddCommand(newEnrichCmd())
	cmd.AddCommand(newChunkCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newPreflightCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads the config file, applies env overrides, and installs the
// operator logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

// setupLogging installs the default slog logger per the logging config.
// Operator logs go to stderr; stdout stays reserved for command output.
func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
