package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	"github.com/trailblazer-io/trailblazer/internal/output"
)

func newEmbedCmd() *cobra.Command {
	var (
		changedOnly bool
		reembedAll  bool
		dryRunCost  bool
		ifChanged   bool
		pricePer1K  float64
		batchSize   int
		maxDocs     int
		maxChunks   int
	)

	cmd := &cobra.Command{
		Use:   "embed <runId>",
		Short: "Embed a run's chunks into the store",
		Long: `Upsert documents and chunks, embed chunk text in batches, and write
the embed manifest. A chunk whose embedding fails in batch and per-item
mode is stored as a zero vector and counted as an error; the run itself
never aborts for one chunk.

--dry-run-cost estimates token volume and price without touching the
provider or the store. --if-changed skips the run entirely when the
manifest matches the previous embedding.`,
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
			if cmd.Flags().Changed("batch-size") {
				cfg.Embed.BatchSize = batchSize
			}

			ws := newWorkspace(cfg)
			lock, err := ws.LockPhase(runID, artifacts.PhaseEmbed)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			provider, err := embed.New(cfg.Embed)
			if err != nil {
				return err
			}
			defer func() { _ = provider.Close() }()

			emitter := openEmitter(ws, runID)
			defer func() { _ = emitter.Close() }()

			opts := embed.LoadOptions{
				Provider:    cfg.Embed.Provider,
				Model:       cfg.Embed.Model,
				Dimension:   cfg.Embed.Dimension,
				BatchSize:   cfg.Embed.BatchSize,
				MaxDocs:     maxDocs,
				MaxChunks:   maxChunks,
				ChangedOnly: changedOnly,
				ReembedAll:  reembedAll,
				DryRunCost:  dryRunCost,
				PricePer1K:  pricePer1K,
			}
			if !cmd.Flags().Changed("changed-only") {
				opts.ChangedOnly = cfg.Embed.ChangedOnly
			}

			loader := embed.NewLoader(ws, st, provider, emitter, manifestMeta(cfg))
			var metrics embed.Metrics
			if ifChanged {
				metrics, err = loader.EmbedIfChanged(cmd.Context(), runID, opts)
			} else {
				metrics, err = loader.LoadRun(cmd.Context(), runID, opts)
			}
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			switch {
			case metrics.Skipped:
				out.Statusf("", "skipped %s: manifest unchanged", runID)
			case dryRunCost:
				out.Statusf("", "dry run %s: %d chunks, ~%d tokens, estimated cost %.4f",
					runID, metrics.Chunks, metrics.TokensEstimate, metrics.EstimatedCost)
			default:
				out.Successf("embedded %s: %d/%d chunks (%d docs, %d skipped, %d zero vectors, %d errors)",
					runID, metrics.ChunksEmbedded, metrics.Chunks,
					metrics.Docs, metrics.DocsSkipped, metrics.ZeroVectors, metrics.Errors)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&changedOnly, "changed-only", false, "Skip documents whose fingerprint is unchanged")
	cmd.Flags().BoolVar(&reembedAll, "reembed-all", false, "Re-embed everything, overriding fingerprints and the dimension guard")
	cmd.Flags().BoolVar(&dryRunCost, "dry-run-cost", false, "Estimate tokens and cost without embedding")
	cmd.Flags().BoolVar(&ifChanged, "if-changed", false, "Skip the run when the embed manifest is unchanged")
	cmd.Flags().Float64Var(&pricePer1K, "price-per-1k", 0, "Provider price per thousand tokens for estimates")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Embedding batch size (defaults from config)")
	cmd.Flags().IntVar(&maxDocs, "max-docs", 0, "Cap processed documents (0 = no cap)")
	cmd.Flags().IntVar(&maxChunks, "max-chunks", 0, "Cap processed chunks (0 = no cap)")

	return cmd
}
