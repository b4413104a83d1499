package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/enrich"
	"github.com/trailblazer-io/trailblazer/internal/output"
)

func newEnrichCmd() *cobra.Command {
	var llm bool
	var maxDocs int

	cmd := &cobra.Command{
		Use:   "enrich <runId>",
		Short: "Enrich a run's normalized documents",
		Long: `Apply rule-based enrichment to normalize/normalized.ndjson: collection
assignment, path tags, quality flags and score, readability, and the
per-document fingerprint. With --llm, the overlay adds summaries and
keywords and suggested edges are emitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if err := requireRunID(runID); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws := newWorkspace(cfg)

			lock, err := ws.LockPhase(runID, artifacts.PhaseEnrich)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			emitter := openEmitter(ws, runID)
			defer func() { _ = emitter.Close() }()

			if !cmd.Flags().Changed("llm") {
				llm = cfg.Enrich.LLMEnabled
			}

			runner := enrich.NewRunner(ws, emitter, nil)
			stats, err := runner.Run(runID, enrich.RunOptions{
				LLMEnabled:           llm,
				MaxDocs:              maxDocs,
				MinQuality:           cfg.Enrich.MinQuality,
				MaxBelowThresholdPct: cfg.Enrich.MaxBelowThresholdPct,
			})
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("enriched %s: %d docs, %d below threshold, %d parse errors",
				runID, stats.Docs, stats.BelowThreshold, stats.ParseErrors)
			if llm {
				out.Statusf("", "suggested edges: %d", stats.SuggestedEdges)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&llm, "llm", false, "Enable the LLM overlay and suggested edges")
	cmd.Flags().IntVar(&maxDocs, "max-docs", 0, "Cap processed documents (0 = no cap)")

	return cmd
}
