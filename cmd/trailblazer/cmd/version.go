package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/output"
	"github.com/trailblazer-io/trailblazer/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(version.GetInfo())
			}
			out.Status("", version.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit build info as JSON")
	return cmd
}
