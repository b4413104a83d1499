package embed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/manifest"
	"github.com/trailblazer-io/trailblazer/internal/record"
	"github.com/trailblazer-io/trailblazer/internal/store"
)

const loaderRunID = "2025-05-06_070809_ef56"

func loaderOptions() LoadOptions {
	return LoadOptions{
		Provider:  "dummy",
		Model:     "dummy-embedder",
		Dimension: 32,
		BatchSize: 2,
	}
}

func loaderMeta() ManifestMeta {
	return ManifestMeta{
		Tokenizer:       record.Tokenizer{Name: "whitespace", Version: "1"},
		EnricherVersion: "2",
		ChunkerVersion:  "2",
		ChunkConfig:     record.ChunkConfig{MaxTokens: 800, MinTokens: 120, PreferHeadings: true, OverlapPct: 0.15},
	}
}

func seedRunArtifacts(t *testing.T, ws *artifacts.Workspace, runID string) {
	t.Helper()
	_, err := ws.EnsurePhaseDir(runID, artifacts.PhaseEnrich)
	require.NoError(t, err)
	_, err = ws.EnsurePhaseDir(runID, artifacts.PhaseChunk)
	require.NoError(t, err)

	ew, err := artifacts.NewNDJSONWriter(ws.EnrichedPath(runID))
	require.NoError(t, err)
	for _, id := range []string{"doc-a", "doc-b"} {
		require.NoError(t, ew.Write(record.Enriched{
			Normalized: record.Normalized{
				ID: id, Title: "Title " + id, URL: "http://" + id,
				SpaceKey: "DOCS", SourceSystem: record.SourceConfluence,
				TextMD: "body of " + id,
			},
			Collection: "docs",
		}))
	}
	require.NoError(t, ew.Close())

	fw, err := artifacts.NewNDJSONWriter(ws.FingerprintsPath(runID))
	require.NoError(t, err)
	require.NoError(t, fw.Write(record.Fingerprint{ID: "doc-a", EnrichmentVersion: "2", FingerprintSHA256: "fp-a"}))
	require.NoError(t, fw.Write(record.Fingerprint{ID: "doc-b", EnrichmentVersion: "2", FingerprintSHA256: "fp-b"}))
	require.NoError(t, fw.Close())

	cw, err := artifacts.NewNDJSONWriter(ws.ChunksPath(runID))
	require.NoError(t, err)
	for i, id := range []string{"doc-a", "doc-a", "doc-b"} {
		ord := i % 2
		cid := chunkID(id, ord)
		require.NoError(t, cw.Write(record.Chunk{
			ChunkID: cid, DocID: id, Ord: ord,
			TextMD: "chunk text " + cid, CharCount: 20, TokenCount: 3,
			ContentHash:  "hash-" + cid,
			Traceability: record.Traceability{Title: "Title " + id, URL: "http://" + id, SourceSystem: record.SourceConfluence},
		}))
	}
	require.NoError(t, cw.Close())
}

func chunkID(docID string, ord int) string {
	return fmt.Sprintf("%s:%04d", docID, ord)
}

func newLoader(t *testing.T) (*Loader, *artifacts.Workspace, *store.MemoryStore) {
	t.Helper()
	ws := artifacts.NewWorkspace(t.TempDir())
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	provider, err := NewDummyEmbedder("dummy-embedder", 32)
	require.NoError(t, err)
	return NewLoader(ws, st, provider, nil, loaderMeta()), ws, st
}

func TestLoadRun_EmbedsAllChunks(t *testing.T) {
	l, ws, st := newLoader(t)
	seedRunArtifacts(t, ws, loaderRunID)

	metrics, err := l.LoadRun(context.Background(), loaderRunID, loaderOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.Docs)
	assert.Equal(t, 3, metrics.Chunks)
	assert.Equal(t, 3, metrics.ChunksEmbedded)
	assert.Equal(t, 0, metrics.Errors)

	dim, err := st.EmbeddingDimension(context.Background(), "dummy")
	require.NoError(t, err)
	assert.Equal(t, 32, dim)

	fps, err := st.DocumentFingerprints(context.Background(), []string{"doc-a", "doc-b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"doc-a": "fp-a", "doc-b": "fp-b"}, fps)

	var assurance Assurance
	require.NoError(t, artifacts.ReadJSON(ws.EmbedAssurancePath(loaderRunID), &assurance))
	assert.Equal(t, 3, assurance.Metrics.ChunksEmbedded)

	m, err := manifest.Load(ws.ManifestPath(loaderRunID))
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalChunks)
	assert.Equal(t, "dummy", m.Provider)
	assert.Len(t, m.DocFingerprints, 2)
	assert.NotEmpty(t, m.ChunkSetHash)
}

func TestLoadRun_ChangedOnlySkipsUnchangedDocs(t *testing.T) {
	l, ws, _ := newLoader(t)
	seedRunArtifacts(t, ws, loaderRunID)

	opts := loaderOptions()
	opts.ChangedOnly = true

	first, err := l.LoadRun(context.Background(), loaderRunID, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Docs)

	second, err := l.LoadRun(context.Background(), loaderRunID, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Docs)
	assert.Equal(t, 2, second.DocsSkipped)
	assert.Equal(t, 0, second.ChunksEmbedded)
}

func TestLoadRun_ReembedAllOverridesSkip(t *testing.T) {
	l, ws, _ := newLoader(t)
	seedRunArtifacts(t, ws, loaderRunID)

	opts := loaderOptions()
	opts.ChangedOnly = true
	_, err := l.LoadRun(context.Background(), loaderRunID, opts)
	require.NoError(t, err)

	opts.ReembedAll = true
	again, err := l.LoadRun(context.Background(), loaderRunID, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Docs)
	assert.Equal(t, 3, again.ChunksEmbedded)
}

func TestLoadRun_DimensionMismatchFails(t *testing.T) {
	l, ws, st := newLoader(t)
	seedRunArtifacts(t, ws, loaderRunID)

	// Existing embeddings at a different dimension for the same provider.
	require.NoError(t, st.UpsertDocument(context.Background(), record.Document{DocID: "old-doc"}))
	require.NoError(t, st.UpsertChunk(context.Background(), "old-run", record.Chunk{
		ChunkID: "old-doc:0000", DocID: "old-doc", TextMD: "old",
	}))
	require.NoError(t, st.UpsertEmbeddings(context.Background(), "dummy", "m", 16,
		[]store.EmbeddingRow{{ChunkID: "old-doc:0000", Vector: make([]float32, 16)}}))

	_, err := l.LoadRun(context.Background(), loaderRunID, loaderOptions())
	require.Error(t, err)
	assert.Equal(t, pperrors.ErrCodeDimensionMismatch, pperrors.CodeOf(err))
}

func TestLoadRun_DryRunCost(t *testing.T) {
	l, ws, st := newLoader(t)
	seedRunArtifacts(t, ws, loaderRunID)

	opts := loaderOptions()
	opts.DryRunCost = true
	opts.PricePer1K = 2.0

	metrics, err := l.LoadRun(context.Background(), loaderRunID, opts)
	require.NoError(t, err)
	assert.Equal(t, 9, metrics.TokensEstimate, "three chunks of three tokens")
	assert.InDelta(t, 9.0/1000*2.0, metrics.EstimatedCost, 1e-9)
	assert.Equal(t, 0, metrics.ChunksEmbedded)

	dim, err := st.EmbeddingDimension(context.Background(), "dummy")
	require.NoError(t, err)
	assert.Equal(t, 0, dim, "dry run must not write embeddings")
}

type failingEmbedder struct {
	*DummyEmbedder
	failTexts map[string]bool
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if f.failTexts[text] {
			return nil, pperrors.Newf(pperrors.ErrCodeRemoteFailed, "batch failure")
		}
	}
	return f.DummyEmbedder.EmbedBatch(ctx, texts)
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failTexts[text] {
		return nil, pperrors.Newf(pperrors.ErrCodeRemoteFailed, "single failure")
	}
	return f.DummyEmbedder.Embed(ctx, text)
}

func TestLoadRun_ZeroVectorDegradation(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	seedRunArtifacts(t, ws, loaderRunID)

	inner, err := NewDummyEmbedder("dummy-embedder", 32)
	require.NoError(t, err)
	provider := &failingEmbedder{
		DummyEmbedder: inner,
		failTexts:     map[string]bool{"chunk text doc-a:0001": true},
	}
	l := NewLoader(ws, st, provider, nil, loaderMeta())

	metrics, err := l.LoadRun(context.Background(), loaderRunID, loaderOptions())
	require.NoError(t, err, "single-chunk failure must not abort the run")
	assert.Equal(t, 3, metrics.Chunks)
	assert.Equal(t, 2, metrics.ChunksEmbedded)
	assert.Equal(t, 1, metrics.ZeroVectors)
	assert.Equal(t, 1, metrics.Errors)
}

func TestEmbedIfChanged_SkipsWhenManifestUnchanged(t *testing.T) {
	l, ws, _ := newLoader(t)
	seedRunArtifacts(t, ws, loaderRunID)

	first, err := l.EmbedIfChanged(context.Background(), loaderRunID, loaderOptions())
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, 3, first.ChunksEmbedded)

	second, err := l.EmbedIfChanged(context.Background(), loaderRunID, loaderOptions())
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.ChunksEmbedded)

	// A provider change invalidates the manifest and re-embeds.
	opts := loaderOptions()
	opts.Model = "other-model"
	third, err := l.EmbedIfChanged(context.Background(), loaderRunID, opts)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
	assert.Contains(t, third.SkipReasons, manifest.ReasonModelChange)
	assert.Equal(t, 3, third.ChunksEmbedded)
}

func TestLoadRun_MissingChunksFails(t *testing.T) {
	l, ws, _ := newLoader(t)
	_, err := ws.EnsurePhaseDir(loaderRunID, artifacts.PhaseEnrich)
	require.NoError(t, err)
	ew, err := artifacts.NewNDJSONWriter(ws.EnrichedPath(loaderRunID))
	require.NoError(t, err)
	require.NoError(t, ew.Write(record.Enriched{Normalized: record.Normalized{ID: "doc-a"}}))
	require.NoError(t, ew.Close())

	_, err = l.LoadRun(context.Background(), loaderRunID, loaderOptions())
	require.Error(t, err)
	assert.Equal(t, pperrors.ErrCodeMissingInput, pperrors.CodeOf(err))
}
