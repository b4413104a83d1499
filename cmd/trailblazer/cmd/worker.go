package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/chunk"
	"github.com/trailblazer-io/trailblazer/internal/coord"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/output"
)

func newWorkerCmd() *cobra.Command {
	var (
		count     int
		drain     bool
		maxRuns   int
		phases    []string
		ifChanged bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain the run backlog with claim-based workers",
		Long: `Run N workers over the processed_runs backlog. Each worker claims the
oldest claimable run per phase (stale claims are recovered first by TTL),
executes the phase, and marks it complete. SIGINT/SIGTERM stop
cooperatively: workers finish the run in hand, then exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if count > 0 {
				cfg.Worker.Count = count
			}

			ws := newWorkspace(cfg)
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			// The worker session gets its own event stream under logs/.
			sessionID := artifacts.NewRunID(time.Now())
			emitter := openEmitter(ws, sessionID)
			defer func() { _ = emitter.Close() }()

			var executors []coord.Executor
			for _, phase := range phases {
				switch phase {
				case "chunk":
					executors = append(executors,
						coord.NewChunkExecutor(chunk.NewRunner(ws, chunkOptions(cfg), emitter)))
				case "embed":
					provider, err := embed.New(cfg.Embed)
					if err != nil {
						return err
					}
					defer func() { _ = provider.Close() }()
					loader := embed.NewLoader(ws, st, provider, emitter, manifestMeta(cfg))
					executors = append(executors, coord.NewEmbedExecutor(loader, embed.LoadOptions{
						Provider:    cfg.Embed.Provider,
						Model:       cfg.Embed.Model,
						Dimension:   cfg.Embed.Dimension,
						BatchSize:   cfg.Embed.BatchSize,
						ChangedOnly: cfg.Embed.ChangedOnly,
					}, ifChanged))
				default:
					return pperrors.New(pperrors.ErrCodeUnknownPhase, "unknown worker phase: "+phase, nil)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool := coord.NewPool(st, emitter, cfg.Worker,
				coord.Options{Drain: drain, MaxRuns: maxRuns}, executors...)

			out := output.New(cmd.OutOrStdout())
			out.Statusf("", "worker session %s: %d workers, phases %v", sessionID, cfg.Worker.Count, phases)
			if err := pool.Run(ctx); err != nil {
				return err
			}
			out.Success("worker pool stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Worker count (defaults from config)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Exit when the backlog is empty instead of polling")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Cap runs per worker (0 = unlimited)")
	cmd.Flags().StringSliceVar(&phases, "phases", []string{"chunk", "embed"}, "Phases to serve, in claim priority order")
	cmd.Flags().BoolVar(&ifChanged, "if-changed", false, "Skip embed runs whose manifest is unchanged")

	return cmd
}
