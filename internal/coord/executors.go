package coord

import (
	"context"

	"github.com/trailblazer-io/trailblazer/internal/chunk"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	"github.com/trailblazer-io/trailblazer/internal/record"
	"github.com/trailblazer-io/trailblazer/internal/store"
)

// ChunkExecutor advances claimed runs through the chunk phase.
type ChunkExecutor struct {
	runner *chunk.Runner
}

// NewChunkExecutor wraps a chunk runner as a claimable-phase executor.
func NewChunkExecutor(runner *chunk.Runner) *ChunkExecutor {
	return &ChunkExecutor{runner: runner}
}

// Phase implements Executor.
func (e *ChunkExecutor) Phase() store.ClaimPhase { return store.ClaimChunk }

// Execute implements Executor.
func (e *ChunkExecutor) Execute(_ context.Context, run record.ProcessedRun) (store.Totals, error) {
	stats, err := e.runner.Run(run.RunID)
	if err != nil {
		return store.Totals{}, err
	}
	return store.Totals{TotalDocs: stats.Docs, TotalChunks: stats.Chunks}, nil
}

// EmbedExecutor advances claimed runs through the embed phase.
type EmbedExecutor struct {
	loader    *embed.Loader
	opts      embed.LoadOptions
	ifChanged bool
}

// NewEmbedExecutor wraps an embed loader as a claimable-phase executor.
// With ifChanged, runs whose manifest is unchanged are skipped and still
// marked complete.
func NewEmbedExecutor(loader *embed.Loader, opts embed.LoadOptions, ifChanged bool) *EmbedExecutor {
	return &EmbedExecutor{loader: loader, opts: opts, ifChanged: ifChanged}
}

// Phase implements Executor.
func (e *EmbedExecutor) Phase() store.ClaimPhase { return store.ClaimEmbed }

// Execute implements Executor.
func (e *EmbedExecutor) Execute(ctx context.Context, run record.ProcessedRun) (store.Totals, error) {
	var (
		metrics embed.Metrics
		err     error
	)
	if e.ifChanged {
		metrics, err = e.loader.EmbedIfChanged(ctx, run.RunID, e.opts)
	} else {
		metrics, err = e.loader.LoadRun(ctx, run.RunID, e.opts)
	}
	if err != nil {
		return store.Totals{}, err
	}
	return store.Totals{
		TotalDocs:      metrics.Docs + metrics.DocsSkipped,
		TotalChunks:    metrics.Chunks,
		EmbeddedChunks: metrics.ChunksEmbedded,
	}, nil
}

var (
	_ Executor = (*ChunkExecutor)(nil)
	_ Executor = (*EmbedExecutor)(nil)
)
