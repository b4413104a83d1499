package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/output"
	"github.com/trailblazer-io/trailblazer/internal/preflight"
)

func newPreflightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Validate runs before embedding",
	}
	cmd.AddCommand(newPreflightRunCmd())
	cmd.AddCommand(newPreflightPlanCmd())
	return cmd
}

func checkerFor(cfg config.Config) preflight.Options {
	return preflight.Options{
		MinQuality:           cfg.Enrich.MinQuality,
		MaxBelowThresholdPct: cfg.Enrich.MaxBelowThresholdPct,
		Embed:                cfg.Embed,
	}
}

func newPreflightRunCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <runId>",
		Short: "Check one run's embed readiness",
		Long: `Certify a run as READY or explain why it is BLOCKED. The quality gate
is advisory: documents below the threshold land in the skiplist but never
block by themselves unless no embeddable document remains.`,
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

			report, err := preflight.NewChecker(newWorkspace(cfg), checkerFor(cfg)).CheckRun(runID)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(report)
			}
			if report.Ready() {
				out.Successf("%s: READY (%d/%d docs embeddable, %d chunks)",
					runID, report.DocTotals.Embeddable, report.DocTotals.Total, report.TokenStats.Chunks)
			} else {
				out.Statusf("", "%s: BLOCKED", runID)
				for _, reason := range report.Reasons {
					out.Statusf("", "  - %s", reason)
				}
			}
			for _, advisory := range report.Advisories {
				out.Warning("advisory: " + advisory)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full report as JSON")
	return cmd
}

func newPreflightPlanCmd() *cobra.Command {
	var (
		outDir       string
		pricePer1K   float64
		tpsPerWorker float64
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "plan <planFile>",
		Short: "Check every run in a plan file",
		Long: `Validate a backlog of runs listed one per line ("runId" or
"runId,expectedChunks") and write ready.txt, blocked.txt, and csv/md/json
reports with optional cost and time estimates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			entries, err := preflight.LoadPlan(args[0])
			if err != nil {
				return err
			}

			cost := preflight.CostModel{
				PricePer1K:   pricePer1K,
				TPSPerWorker: tpsPerWorker,
				Workers:      workers,
			}
			report, err := preflight.NewChecker(newWorkspace(cfg), checkerFor(cfg)).
				CheckPlan(entries, outDir, cost)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Statusf("", "ready: %d, blocked: %d, tokens: %d", report.Ready, report.Blocked, report.TotalTokens)
			if report.EstimatedCost > 0 {
				out.Statusf("", "estimated cost: %.4f", report.EstimatedCost)
			}
			if report.EstimatedSecs > 0 {
				out.Statusf("", "estimated time: %.0fs", report.EstimatedSecs)
			}
			out.Statusf("", "reports written to %s", outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "preflight-plan", "Directory for plan reports")
	cmd.Flags().Float64Var(&pricePer1K, "price-per-1k", 0, "Provider price per thousand tokens")
	cmd.Flags().Float64Var(&tpsPerWorker, "tps-per-worker", 0, "Embedding throughput per worker (tokens/sec)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers for the time estimate")

	return cmd
}
