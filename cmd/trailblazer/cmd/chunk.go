package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/chunk"
	"github.com/trailblazer-io/trailblazer/internal/output"
)

func newChunkCmd() *cobra.Command {
	var maxTokens, minTokens int
	var overlapPct float64

	cmd := &cobra.Command{
		Use:   "chunk <runId>",
		Short: "Chunk a run's documents",
		Long: `Split enriched (or normalized) documents into deterministic,
token-bounded Markdown chunks. Fenced code blocks are never split; an
atomic block larger than the budget is emitted alone and recorded in
chunk assurance as an overflow.`,
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

			opts := chunkOptions(cfg)
			if cmd.Flags().Changed("max-tokens") {
				opts.MaxTokens = maxTokens
			}
			if cmd.Flags().Changed("min-tokens") {
				opts.MinTokens = minTokens
			}
			if cmd.Flags().Changed("overlap") {
				opts.OverlapPct = overlapPct
			}

			ws := newWorkspace(cfg)
			lock, err := ws.LockPhase(runID, artifacts.PhaseChunk)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			emitter := openEmitter(ws, runID)
			defer func() { _ = emitter.Close() }()

			stats, err := chunk.NewRunner(ws, opts, emitter).Run(runID)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("chunked %s: %d docs, %d chunks, %d tokens",
				runID, stats.Docs, stats.Chunks, stats.Tokens)
			if stats.Overflows > 0 {
				out.Statusf("", "oversize atomic blocks: %d", stats.Overflows)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 800, "Token budget per chunk")
	cmd.Flags().IntVar(&minTokens, "min-tokens", 120, "Merge threshold for small chunks")
	cmd.Flags().Float64Var(&overlapPct, "overlap", 0.15, "Overlap fraction between adjacent chunks")

	return cmd
}
