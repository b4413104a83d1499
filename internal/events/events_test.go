package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestEmitter_WritesCanonicalLines(t *testing.T) {
	root := t.TempDir()
	em, err := Open(root, "2025-01-02_030405_ab12")
	require.NoError(t, err)

	em.Start("chunk", "chunk.run")
	em.Tick("chunk", "chunk.emit", Counts{Docs: 1, Chunks: 4, Tokens: 900})
	em.End("chunk", "chunk.run", 1500*time.Millisecond, Counts{Docs: 1, Chunks: 4, Tokens: 900})
	require.NoError(t, em.Close())

	evs := readEvents(t, filepath.Join(root, "2025-01-02_030405_ab12", "events.ndjson"))
	require.Len(t, evs, 3)

	assert.Equal(t, StatusStart, evs[0].Status)
	assert.Equal(t, "chunk.run", evs[0].Op)
	assert.Equal(t, "2025-01-02_030405_ab12", evs[0].RID)
	assert.True(t, strings.HasSuffix(evs[0].TS, "Z"))

	require.NotNil(t, evs[1].Counts)
	assert.Equal(t, 4, evs[1].Counts.Chunks)

	require.NotNil(t, evs[2].DurationMS)
	assert.Equal(t, int64(1500), *evs[2].DurationMS)

	assert.NotEmpty(t, evs[0].Session)
	assert.Equal(t, evs[0].Session, evs[2].Session, "one emitter, one session id")
}

func TestEmitter_FailIsErrorLevelWithReason(t *testing.T) {
	root := t.TempDir()
	em, err := Open(root, "run1")
	require.NoError(t, err)
	em.Fail("embed", "embed.run", time.Second, "dimension mismatch")
	require.NoError(t, em.Close())

	evs := readEvents(t, filepath.Join(root, "run1", "events.ndjson"))
	require.Len(t, evs, 1)
	assert.Equal(t, StatusFail, evs[0].Status)
	assert.Equal(t, "ERROR", evs[0].Level)
	assert.Equal(t, "dimension mismatch", evs[0].Reason)
}

func TestRotatingWriter_RotatesWithOrdinalSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")
	w, err := NewRotatingWriter(path, 32)
	require.NoError(t, err)

	line := []byte(`{"op":"x.y","status":"OK"}` + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "first rotated segment should exist")
}

func TestRotatingWriter_OrdinalsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")
	require.NoError(t, os.WriteFile(path+".3", []byte("old\n"), 0o644))

	w, err := NewRotatingWriter(path, 8)
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = os.Stat(path + ".4")
	assert.NoError(t, err, "rotation should continue after the highest existing ordinal")
}

func TestNopEmitter_DoesNotPanic(t *testing.T) {
	em := Nop()
	em.Start("enrich", "enrich.run")
	em.Heartbeat("embed")
	assert.NoError(t, em.Close())
}

func TestOpen_RefreshesLatestSymlink(t *testing.T) {
	root := t.TempDir()
	em1, err := Open(root, "runA")
	require.NoError(t, err)
	require.NoError(t, em1.Close())

	em2, err := Open(root, "runB")
	require.NoError(t, err)
	require.NoError(t, em2.Close())

	target, err := os.Readlink(filepath.Join(root, "latest"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "runB"), target)
}
