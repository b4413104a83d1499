package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/output"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

func newRunsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List processed runs and their claim state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(runs)
			}
			if len(runs) == 0 {
				out.Status("", "no processed runs")
				return nil
			}
			for _, run := range runs {
				out.Status("", formatRun(run))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit runs as JSON")
	return cmd
}

func formatRun(run record.ProcessedRun) string {
	line := fmt.Sprintf("%s  %-10s  docs=%d", run.RunID, run.Status, run.TotalDocs)
	if run.TotalChunks != nil {
		line += fmt.Sprintf(" chunks=%d", *run.TotalChunks)
	}
	if run.EmbeddedChunks != nil {
		line += fmt.Sprintf(" embedded=%d", *run.EmbeddedChunks)
	}
	if run.ClaimedBy != nil {
		age := ""
		if run.ClaimedAt != nil {
			age = fmt.Sprintf(" %s ago", time.Since(*run.ClaimedAt).Round(time.Second))
		}
		line += fmt.Sprintf("  [claimed by %s%s]", *run.ClaimedBy, age)
	}
	return line
}
