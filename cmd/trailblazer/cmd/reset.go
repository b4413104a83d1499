package cmd

import (
	"github.com/spf13/cobra"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/output"
)

func newResetCmd() *cobra.Command {
	var purge bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <runId>...",
		Short: "Return runs to a re-runnable state",
		Long: `Reset coordination rows so the given runs can be claimed again.

With --purge, the runs' chunks and embeddings are also deleted from the
store. Purging is destructive and requires --yes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if purge && !yes {
				return pperrors.New(pperrors.ErrCodeConfigInvalid,
					"--purge deletes chunks and embeddings; pass --yes to confirm", nil)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			reset, err := st.ResetRuns(cmd.Context(), args, purge)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if purge {
				out.Successf("reset %d runs (derived rows purged)", reset)
			} else {
				out.Successf("reset %d runs", reset)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the runs' chunks and embeddings")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm destructive operations")

	return cmd
}
