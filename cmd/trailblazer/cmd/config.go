package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/configs"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage trailblazer configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an annotated example config file",
		Long: `Write the embedded configuration template to path (default
trailblazer.yaml). The template documents every key with its default;
uncomment and edit what differs in your deployment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "trailblazer.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return pperrors.New(pperrors.ErrCodeConfigInvalid,
						path+" already exists; pass --force to overwrite", nil)
				}
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return pperrors.ConfigError("write config template", err)
			}
			output.New(cmd.OutOrStdout()).Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Long: `Print the fully resolved configuration: defaults, then the config
file, then TRAILBLAZER_* environment overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return output.New(cmd.OutOrStdout()).JSON(cfg)
		},
	}
}
