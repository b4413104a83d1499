package chunk

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

const runnerRunID = "2025-01-02_030405_ab12"

func writeEnriched(t *testing.T, ws *artifacts.Workspace, runID string, docs []record.Enriched) {
	t.Helper()
	_, err := ws.EnsurePhaseDir(runID, artifacts.PhaseEnrich)
	require.NoError(t, err)
	w, err := artifacts.NewNDJSONWriter(ws.EnrichedPath(runID))
	require.NoError(t, err)
	for _, d := range docs {
		require.NoError(t, w.Write(d))
	}
	require.NoError(t, w.Close())
}

func TestRunner_ChunksEnrichedInput(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	writeEnriched(t, ws, runnerRunID, []record.Enriched{
		{
			Normalized: record.Normalized{
				ID: "doc-a", Title: "Doc A", URL: "http://a",
				SourceSystem: record.SourceConfluence,
				TextMD:       "# A\nalpha beta gamma delta.\n\n## B\nepsilon zeta.",
			},
			QualityScore: 0.9,
		},
		{
			Normalized: record.Normalized{
				ID: "doc-b", Title: "Doc B", URL: "http://b",
				SourceSystem: record.SourceDITA,
				TextMD:       "one paragraph only",
			},
			QualityScore: 0.35,
		},
	})

	r := NewRunner(ws, Options{MaxTokens: 50, MinTokens: 1}, nil)
	stats, err := r.Run(runnerRunID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Docs)
	assert.GreaterOrEqual(t, stats.Chunks, 2)

	var got []record.Chunk
	_, err = artifacts.ReadNDJSON(ws.ChunksPath(runnerRunID), func(c record.Chunk) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "doc-a:0000", got[0].ChunkID)
	assert.Equal(t, "Doc A", got[0].Traceability.Title)

	var assurance Assurance
	require.NoError(t, artifacts.ReadJSON(ws.ChunkAssurancePath(runnerRunID), &assurance))
	assert.True(t, assurance.UsedEnriched)
	assert.Equal(t, 2, assurance.Docs)
	assert.Equal(t, 1, assurance.QualityDistribution["0.8-1.0"])
	assert.Equal(t, 1, assurance.QualityDistribution["0.2-0.4"])
	assert.Equal(t, WhitespaceTokenizer, assurance.Tokenizer)
}

func TestRunner_FallsBackToNormalized(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	_, err := ws.EnsurePhaseDir(runnerRunID, artifacts.PhaseNormalize)
	require.NoError(t, err)
	w, err := artifacts.NewNDJSONWriter(ws.NormalizedPath(runnerRunID))
	require.NoError(t, err)
	require.NoError(t, w.Write(record.Normalized{
		ID: "n1", Title: "N1", URL: "http://n1",
		SourceSystem: record.SourceDITA, TextMD: "just some words here",
	}))
	require.NoError(t, w.Close())

	r := NewRunner(ws, DefaultOptions(), nil)
	stats, err := r.Run(runnerRunID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Docs)

	var assurance Assurance
	require.NoError(t, artifacts.ReadJSON(ws.ChunkAssurancePath(runnerRunID), &assurance))
	assert.False(t, assurance.UsedEnriched)
}

func TestRunner_MissingInputFails(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	r := NewRunner(ws, DefaultOptions(), nil)
	_, err := r.Run(runnerRunID)
	require.Error(t, err)
	assert.Equal(t, pperrors.ErrCodeMissingInput, pperrors.CodeOf(err))
}

func TestRunner_ByteIdenticalAcrossRuns(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	writeEnriched(t, ws, runnerRunID, []record.Enriched{{
		Normalized: record.Normalized{
			ID: "d", Title: "D", URL: "http://d",
			SourceSystem: record.SourceConfluence,
			TextMD:       "# H\none two three four five.\n\nsix seven eight nine ten.",
		},
		QualityScore: 0.5,
	}})

	r := NewRunner(ws, Options{MaxTokens: 6, MinTokens: 1, PreferHeadings: true}, nil)
	_, err := r.Run(runnerRunID)
	require.NoError(t, err)
	first, err := os.ReadFile(ws.ChunksPath(runnerRunID))
	require.NoError(t, err)

	_, err = r.Run(runnerRunID)
	require.NoError(t, err)
	second, err := os.ReadFile(ws.ChunksPath(runnerRunID))
	require.NoError(t, err)

	assert.Equal(t, first, second, "chunks.ndjson must be byte-identical across runs")
}
