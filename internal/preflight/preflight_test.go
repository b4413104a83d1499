package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

const checkRunID = "2025-07-08_091011_ab90"

func checkerOptions() Options {
	return Options{
		MinQuality:           0.3,
		MaxBelowThresholdPct: 0.25,
		Embed: config.EmbedConfig{
			Provider: "dummy", Model: "dummy-embedder", Dimension: 256,
		},
	}
}

func seedEnriched(t *testing.T, ws *artifacts.Workspace, runID string, scores []float64) {
	t.Helper()
	_, err := ws.EnsurePhaseDir(runID, artifacts.PhaseEnrich)
	require.NoError(t, err)
	w, err := artifacts.NewNDJSONWriter(ws.EnrichedPath(runID))
	require.NoError(t, err)
	for i, score := range scores {
		require.NoError(t, w.Write(record.Enriched{
			Normalized:   record.Normalized{ID: docID(i)},
			QualityScore: score,
			QualityFlags: []string{},
		}))
	}
	require.NoError(t, w.Close())
}

func seedChunks(t *testing.T, ws *artifacts.Workspace, runID string, tokenCounts []int) {
	t.Helper()
	_, err := ws.EnsurePhaseDir(runID, artifacts.PhaseChunk)
	require.NoError(t, err)
	w, err := artifacts.NewNDJSONWriter(ws.ChunksPath(runID))
	require.NoError(t, err)
	for i, tokens := range tokenCounts {
		require.NoError(t, w.Write(record.Chunk{
			ChunkID: docID(i) + ":0000", DocID: docID(i), TokenCount: tokens,
			TextMD: "text",
		}))
	}
	require.NoError(t, w.Close())
}

func docID(i int) string {
	return "doc-" + string(rune('a'+i))
}

func TestCheckRun_Ready(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	seedEnriched(t, ws, checkRunID, []float64{0.9, 0.8})
	seedChunks(t, ws, checkRunID, []int{100, 300})

	report, err := NewChecker(ws, checkerOptions()).CheckRun(checkRunID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, report.Status)
	assert.True(t, report.Ready())
	assert.Empty(t, report.Reasons)
	assert.Equal(t, DocTotals{Total: 2, Embeddable: 2}, report.DocTotals)
	assert.Equal(t, 2, report.TokenStats.Chunks)
	assert.Equal(t, 100, report.TokenStats.Min)
	assert.Equal(t, 300, report.TokenStats.Max)
	assert.InDelta(t, 200.0, report.TokenStats.Avg, 1e-9)

	var persisted Report
	require.NoError(t, artifacts.ReadJSON(ws.PreflightPath(checkRunID), &persisted))
	assert.Equal(t, StatusReady, persisted.Status)

	_, err = os.Stat(ws.SkiplistPath(checkRunID))
	assert.True(t, os.IsNotExist(err), "no skiplist when no docs fall below threshold")
}

func TestCheckRun_MissingArtifactsBlock(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	report, err := NewChecker(ws, checkerOptions()).CheckRun(checkRunID)
	require.NoError(t, err, "a blocked verdict is a normal result")
	assert.Equal(t, StatusBlocked, report.Status)
	assert.Contains(t, report.Reasons, ReasonMissingEnriched)
	assert.Contains(t, report.Reasons, ReasonMissingChunks)
}

func TestCheckRun_SkiplistAndQualityAdvisory(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	seedEnriched(t, ws, checkRunID, []float64{0.9, 0.1, 0.2})
	seedChunks(t, ws, checkRunID, []int{50})

	report, err := NewChecker(ws, checkerOptions()).CheckRun(checkRunID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, report.Status, "quality gate is advisory only")
	assert.Contains(t, report.Advisories, AdvisoryQualityGate)
	assert.Equal(t, DocTotals{Total: 3, Embeddable: 1, Skipped: 2}, report.DocTotals)

	var skiplist []SkipEntry
	require.NoError(t, artifacts.ReadJSON(ws.SkiplistPath(checkRunID), &skiplist))
	require.Len(t, skiplist, 2)
	assert.Equal(t, "doc-b", skiplist[0].DocID)
}

func TestCheckRun_AllDocsBelowThresholdBlocks(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	seedEnriched(t, ws, checkRunID, []float64{0.1, 0.0})
	seedChunks(t, ws, checkRunID, []int{50})

	report, err := NewChecker(ws, checkerOptions()).CheckRun(checkRunID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, report.Status)
	assert.Contains(t, report.Reasons, ReasonNoEmbeddableDocs)
}

func TestCheckRun_IncoherentConfigBlocks(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	seedEnriched(t, ws, checkRunID, []float64{0.9})
	seedChunks(t, ws, checkRunID, []int{50})

	opts := checkerOptions()
	opts.Embed.Dimension = 100000
	report, err := NewChecker(ws, opts).CheckRun(checkRunID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, report.Status)
	assert.Contains(t, report.Reasons, ReasonConfigIncoherent)
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"# backlog\nrun-1\nrun-2,40\n\n"), 0o644))

	entries, err := LoadPlan(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, PlanEntry{RunID: "run-1"}, entries[0])
	assert.Equal(t, PlanEntry{RunID: "run-2", ExpectedChunks: 40}, entries[1])
}

func TestLoadPlan_MissingOrEmpty(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "plan.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = LoadPlan(empty)
	require.Error(t, err)
}

func TestCheckPlan_AggregatesAndWritesArtifacts(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	seedEnriched(t, ws, "2025-07-08_091011_aa01", []float64{0.9})
	seedChunks(t, ws, "2025-07-08_091011_aa01", []int{100, 100})

	outDir := filepath.Join(t.TempDir(), "plan-out")
	checker := NewChecker(ws, checkerOptions())
	report, err := checker.CheckPlan([]PlanEntry{
		{RunID: "2025-07-08_091011_aa01", ExpectedChunks: 2},
		{RunID: "2025-07-08_091011_bb02"},
	}, outDir, CostModel{PricePer1K: 1.0, TPSPerWorker: 100, Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ready)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 200, report.TotalTokens)
	assert.InDelta(t, 0.2, report.EstimatedCost, 1e-9)
	assert.InDelta(t, 1.0, report.EstimatedSecs, 1e-9)

	ready, err := os.ReadFile(filepath.Join(outDir, "ready.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2025-07-08_091011_aa01\n", string(ready))

	blocked, err := os.ReadFile(filepath.Join(outDir, "blocked.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2025-07-08_091011_bb02\n", string(blocked))

	csv, err := os.ReadFile(filepath.Join(outDir, "report.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), "runId,status,docs,chunks,tokens,reasons\n"))

	var persisted PlanReport
	require.NoError(t, artifacts.ReadJSON(filepath.Join(outDir, "report.json"), &persisted))
	assert.Len(t, persisted.Runs, 2)
}

func TestCheckPlan_ChunkCountDriftAdvisory(t *testing.T) {
	ws := artifacts.NewWorkspace(t.TempDir())
	seedEnriched(t, ws, checkRunID, []float64{0.9})
	seedChunks(t, ws, checkRunID, []int{100})

	report, err := NewChecker(ws, checkerOptions()).CheckPlan(
		[]PlanEntry{{RunID: checkRunID, ExpectedChunks: 5}},
		filepath.Join(t.TempDir(), "out"), CostModel{})
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, StatusReady, report.Runs[0].Status, "drift is advisory")
	assert.Contains(t, report.Runs[0].Advisories, AdvisoryChunkCountDrift)
}
