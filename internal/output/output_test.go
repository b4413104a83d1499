package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Success("done")
	w.Statusf("", "processed %d runs", 3)

	got := buf.String()
	assert.Equal(t, "done\nprocessed 3 runs\n", got)
	assert.False(t, strings.Contains(got, "✅"), "icons are terminal-only")
}

func TestWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	require.NoError(t, w.JSON(map[string]int{"runs": 2}))
	assert.JSONEq(t, `{"runs": 2}`, buf.String())
}

func TestWriter_ErrorAndNewline(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Errorf("run %s not found", "r1")
	w.Newline()
	assert.Equal(t, "run r1 not found\n\n", buf.String())
}
