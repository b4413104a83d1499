package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

func execute(t *testing.T, args ...string) (string, error) {
	return executeWith(t, t.TempDir(), args...)
}

func executeWith(t *testing.T, workroot string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TRAILBLAZER_WORKROOT", workroot)

	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trailblazer")
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}

func TestResetRequiresConfirmation(t *testing.T) {
	_, err := execute(t, "reset", "2025-01-02_030405_ab12", "--purge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestWorkerRejectsUnknownPhase(t *testing.T) {
	_, err := execute(t, "worker", "--phases", "normalize", "--drain")
	require.Error(t, err)
	assert.Equal(t, pperrors.ErrCodeUnknownPhase, pperrors.CodeOf(err))
}

func TestRunsCommand_EmptyBacklog(t *testing.T) {
	out, err := execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "no processed runs")
}

func TestChunkCommand_ChunksSeededRun(t *testing.T) {
	workroot := t.TempDir()
	ws := artifacts.NewWorkspace(workroot)
	runID := "2025-03-04_050607_ab12"

	_, err := ws.EnsurePhaseDir(runID, artifacts.PhaseNormalize)
	require.NoError(t, err)
	w, err := artifacts.NewNDJSONWriter(ws.NormalizedPath(runID))
	require.NoError(t, err)
	require.NoError(t, w.Write(record.Normalized{
		ID: "doc-a", Title: "Doc A", URL: "http://a",
		SourceSystem: record.SourceConfluence,
		TextMD:       "# Heading\n\nSome body text for chunking.",
	}))
	require.NoError(t, w.Close())

	out, err := executeWith(t, workroot, "chunk", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "chunked "+runID)

	lines, err := artifacts.CountLines(ws.ChunksPath(runID))
	require.NoError(t, err)
	assert.Equal(t, 1, lines)

	// The phase lock is released on exit, so a rerun succeeds.
	_, err = executeWith(t, workroot, "chunk", runID)
	require.NoError(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trailblazer.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workspace:")

	_, err = execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"Provider": "dummy"`)
}

func TestEnrichRejectsMalformedRunID(t *testing.T) {
	_, err := execute(t, "enrich", "not-a-run-id")
	require.Error(t, err)
	assert.Equal(t, pperrors.ErrCodeConfigInvalid, pperrors.CodeOf(err))
}
