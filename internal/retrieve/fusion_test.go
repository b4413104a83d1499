package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/store"
)

func candidates(ids ...string) []store.Candidate {
	out := make([]store.Candidate, len(ids))
	for i, id := range ids {
		out[i] = store.Candidate{ChunkID: id, DocID: "doc-" + id, TextMD: "text " + id}
	}
	return out
}

func TestFuseRRF_MergesRankedLists(t *testing.T) {
	dense := candidates("c1", "c2", "c3")
	lexical := candidates("c2", "c1", "c4")

	out := fuseRRF(dense, lexical, 60)
	require.Len(t, out, 4)

	order := make([]string, len(out))
	for i, f := range out {
		order[i] = f.ChunkID
	}
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, order,
		"equal scores break ties by chunkId ascending")

	c1 := out[0]
	assert.InDelta(t, 1.0/61+1.0/62, c1.RRFScore, 1e-12)
	assert.Equal(t, 1, c1.DenseRank)
	assert.Equal(t, 2, c1.BM25Rank)

	c3 := out[2]
	assert.InDelta(t, 1.0/63, c3.RRFScore, 1e-12)
	assert.Equal(t, 3, c3.DenseRank)
	assert.Equal(t, 0, c3.BM25Rank, "absent from the lexical list")
}

func TestFuseRRF_Deterministic(t *testing.T) {
	dense := candidates("b", "a", "d", "c")
	lexical := candidates("c", "d", "a", "b")

	first := fuseRRF(dense, lexical, 60)
	for i := 0; i < 10; i++ {
		again := fuseRRF(dense, lexical, 60)
		require.Equal(t, first, again)
	}
}

func TestFuseRRF_SingleSource(t *testing.T) {
	out := fuseRRF(candidates("c1", "c2"), nil, 60)
	require.Len(t, out, 2)
	assert.Equal(t, "c1", out[0].ChunkID)
	assert.InDelta(t, 1.0/61, out[0].RRFScore, 1e-12)
	assert.Equal(t, 0, out[0].BM25Rank)
}

func TestTitleBoost(t *testing.T) {
	tests := []struct {
		title string
		want  float64
	}{
		{"N2S Methodology Guide", 0.20},
		{"Delivery Playbook", 0.15},
		{"Incident Runbook", 0.10},
		{"Team Notes March", -0.10},
		{"Planning 2024", -0.10},
		{"Methodology Playbook", 0.35},
		{"Methodology Review 2023", 0.10},
		{"Project Notes", 0.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, titleBoost(tt.title), 1e-12, tt.title)
	}
}

func TestApplyBoosts_ReordersTies(t *testing.T) {
	// Two candidates with identical fused scores; the methodology title
	// must win after boosts.
	out := []fused{
		{Candidate: store.Candidate{ChunkID: "a", Title: "Project Notes"}, RRFScore: 0.40, Final: 0.40},
		{Candidate: store.Candidate{ChunkID: "b", Title: "N2S Methodology Guide"}, RRFScore: 0.40, Final: 0.40},
	}
	applyBoosts(out)

	assert.Equal(t, "b", out[0].ChunkID)
	assert.InDelta(t, 0.60, out[0].Final, 1e-12)
	assert.InDelta(t, 0.20, out[0].Boost, 1e-12)
	assert.InDelta(t, 0.40, out[1].Final, 1e-12)
}
