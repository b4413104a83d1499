package cmd

import (
	"context"
	"log/slog"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/chunk"
	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	"github.com/trailblazer-io/trailblazer/internal/enrich"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/events"
	"github.com/trailblazer-io/trailblazer/internal/store"
	"github.com/trailblazer-io/trailblazer/pkg/version"
)

// newWorkspace opens the artifact store at the configured workroot.
func newWorkspace(cfg config.Config) *artifacts.Workspace {
	return artifacts.NewWorkspace(cfg.Workspace.Root)
}

// openStore connects to the configured backend. An empty database URL
// selects the in-memory store, which only makes sense for smoke tests; the
// warning keeps that from passing silently in production.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		slog.Warn("no database url configured, using in-memory store")
		return store.NewMemoryStore()
	}
	return store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Embed.Dimension, cfg.Database.StatementTimeout)
}

// openEmitter opens the run's event stream. Emission is best-effort: a
// failed open degrades to the no-op emitter so the phase still runs.
func openEmitter(ws *artifacts.Workspace, runID string) *events.Emitter {
	emitter, err := events.Open(ws.LogsDir(), runID)
	if err != nil {
		slog.Warn("event stream unavailable", "run", runID, "error", err)
		return events.Nop()
	}
	return emitter
}

// requireRunID validates the run id argument shape before any work starts.
func requireRunID(runID string) error {
	if !artifacts.ValidRunID(runID) {
		return pperrors.New(pperrors.ErrCodeConfigInvalid, "invalid run id: "+runID, nil)
	}
	return nil
}

// chunkOptions maps the configured chunker settings.
func chunkOptions(cfg config.Config) chunk.Options {
	return chunk.Options{
		MaxTokens:      cfg.Chunk.MaxTokens,
		MinTokens:      cfg.Chunk.MinTokens,
		PreferHeadings: cfg.Chunk.PreferHeadings,
		OverlapPct:     cfg.Chunk.OverlapPct,
	}
}

// manifestMeta assembles the identity block every embed manifest records.
func manifestMeta(cfg config.Config) embed.ManifestMeta {
	return embed.ManifestMeta{
		Tokenizer:       chunk.WhitespaceTokenizer,
		EnricherVersion: enrich.Version,
		ChunkerVersion:  chunk.Version,
		ChunkConfig:     chunkOptions(cfg).Config(),
		GitCommit:       version.Commit,
	}
}
