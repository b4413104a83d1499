package retrieve

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/record"
)

func hit(chunkID, docID, text string) record.Hit {
	return record.Hit{
		ChunkID: chunkID,
		DocID:   docID,
		Title:   "Title " + docID,
		URL:     "http://" + docID,
		TextMD:  text,
		Score:   0.5,
	}
}

func TestPackContext_RespectsBudget(t *testing.T) {
	hits := []record.Hit{
		hit("a:0000", "a", strings.Repeat("alpha ", 30)),
		hit("b:0000", "b", strings.Repeat("beta ", 30)),
		hit("c:0000", "c", strings.Repeat("gamma ", 30)),
	}

	packedContext, packed := PackContext(hits, 500, 0)
	assert.LessOrEqual(t, len(packedContext), 500)
	require.NotEmpty(t, packed)
	assert.Less(t, len(packed), len(hits), "budget drops the tail")
	assert.Contains(t, packedContext, "Title a")
	assert.Contains(t, packedContext, "[score: 0.5000]")
}

func TestPackContext_MaxChunksPerDoc(t *testing.T) {
	hits := []record.Hit{
		hit("a:0000", "a", "first"),
		hit("a:0001", "a", "second"),
		hit("a:0002", "a", "third"),
		hit("b:0000", "b", "other"),
	}

	_, packed := PackContext(hits, 10000, 2)
	require.Len(t, packed, 3)
	assert.Equal(t, "a:0000", packed[0].ChunkID)
	assert.Equal(t, "a:0001", packed[1].ChunkID)
	assert.Equal(t, "b:0000", packed[2].ChunkID)
}

func TestPackContext_NeverCutsInsideCodeFence(t *testing.T) {
	prose := strings.Repeat("words here and more words to fill the line nicely\n", 4)
	code := "```go\n" + strings.Repeat("x := compute(x)\n", 40) + "```\n"
	hits := []record.Hit{hit("a:0000", "a", prose + code)}

	// The budget lands mid-fence; packing must fall back to the last safe
	// line boundary before the fence opened.
	budget := len(separator(hits[0])) + len(prose) + 120
	packedContext, packed := PackContext(hits, budget, 0)
	require.Len(t, packed, 1)
	assert.LessOrEqual(t, len(packedContext), budget)
	assert.NotContains(t, packed[0].TextMD, "```go", "truncation backed out of the fence")
	assert.Contains(t, packed[0].TextMD, "words here")
}

func TestPackContext_OversizeFirstChunkIncludedWhole(t *testing.T) {
	code := "```\n" + strings.Repeat("data\n", 100) + "```"
	hits := []record.Hit{hit("a:0000", "a", code)}

	packedContext, packed := PackContext(hits, 100, 0)
	require.Len(t, packed, 1)
	assert.Equal(t, code, packed[0].TextMD, "an untruncatable first chunk stays complete")
	assert.Greater(t, len(packedContext), 100)
}

func TestPackContext_Empty(t *testing.T) {
	packedContext, packed := PackContext(nil, 1000, 0)
	assert.Empty(t, packedContext)
	assert.Empty(t, packed)
}

func TestSafeTruncate(t *testing.T) {
	text := strings.Repeat("line of prose text for the packer\n", 10)
	out := safeTruncate(text, 120)
	assert.LessOrEqual(t, len(out), 120)
	assert.NotEmpty(t, out)

	assert.Equal(t, "short", safeTruncate("short", 100), "limit beyond length is a no-op")
	assert.Empty(t, safeTruncate(text, 10), "tiny fragments are omitted")
}
