package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/embed"
	"github.com/trailblazer-io/trailblazer/internal/output"
	"github.com/trailblazer-io/trailblazer/internal/retrieve"
)

func newRetrieveCmd() *cobra.Command {
	var (
		topK       int
		spaces     []string
		collection string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Answer a query with hybrid retrieval",
		Long: `Run the hybrid retrieval pipeline: dense cosine nearest-neighbor and
BM25 full-text candidates fused by Reciprocal Rank Fusion, with domain
title boosts, packed into a character budget. Results are deterministic
for identical store state; ties break by chunkId.`,
		Args: cobra.MinimumNArgs(1),
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

			embedder, err := embed.New(cfg.Embed)
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			r := retrieve.NewRetriever(st, embedder, nil, cfg.Retrieval, cfg.Embed.Provider, nil)
			resp, err := r.Retrieve(cmd.Context(), retrieve.Request{
				Query:          strings.Join(args, " "),
				TopK:           topK,
				SpaceWhitelist: spaces,
				Collection:     collection,
			})
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			switch format {
			case "json":
				return out.JSON(resp)
			case "context":
				out.Status("", resp.Context)
				return nil
			default:
				if resp.DenseOnly {
					out.Warning("dense-only fallback: " + resp.FallbackReason)
				}
				if resp.ExpandedQuery != "" {
					out.Statusf("", "expanded query: %s", resp.ExpandedQuery)
				}
				out.Statusf("🔍", "%d hits across %d documents (%d chars packed)",
					len(resp.Hits), resp.Summary.UniqueDocuments, resp.Summary.TotalCharacters)
				for i, hit := range resp.Hits {
					out.Statusf("", "%d. %s (score: %.4f) %s", i+1, hit.Title, hit.Score, hit.URL)
					if hit.BoostApplied != 0 {
						out.Statusf("", "   boost %+.2f, dense rank %d, bm25 rank %d",
							hit.BoostApplied, hit.DenseRank, hit.BM25Rank)
					}
				}
				return nil
			}
		},
	}

	cmd.Flags().IntVarP(&topK, "topk", "n", 0, "Hit count (defaults from config)")
	cmd.Flags().StringSliceVar(&spaces, "space", nil, "Restrict to space keys (repeatable)")
	cmd.Flags().StringVar(&collection, "collection", "", "Restrict the lexical path to one collection")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json, context")

	return cmd
}
