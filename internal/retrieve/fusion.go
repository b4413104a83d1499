package retrieve

import (
	"sort"

	"github.com/trailblazer-io/trailblazer/internal/store"
)

// DefaultRRFK is the standard reciprocal-rank-fusion smoothing constant.
const DefaultRRFK = 60

// fused is one candidate after rank fusion, before boosts.
type fused struct {
	store.Candidate
	DenseRank  int
	DenseScore float64
	BM25Rank   int
	BM25Score  float64
	RRFScore   float64
	Boost      float64
	Final      float64
}

// fuseRRF merges the two ranked candidate lists by reciprocal rank fusion:
// score(c) = sum over sources of 1/(k + rank). Ranks are 1-indexed; a source
// that did not return the candidate contributes nothing. Ordering is
// deterministic: score desc, then chunkId asc.
func fuseRRF(dense, lexical []store.Candidate, k int) []fused {
	if k <= 0 {
		k = DefaultRRFK
	}
	merged := make(map[string]*fused, len(dense)+len(lexical))

	get := func(c store.Candidate) *fused {
		if f, ok := merged[c.ChunkID]; ok {
			if f.TextMD == "" {
				f.Candidate = c
			}
			return f
		}
		f := &fused{Candidate: c}
		merged[c.ChunkID] = f
		return f
	}

	for i, c := range dense {
		f := get(c)
		f.DenseRank = i + 1
		f.DenseScore = c.Score
		f.RRFScore += 1 / float64(k+i+1)
	}
	for i, c := range lexical {
		f := get(c)
		f.BM25Rank = i + 1
		f.BM25Score = c.Score
		f.RRFScore += 1 / float64(k+i+1)
	}

	out := make([]fused, 0, len(merged))
	for _, f := range merged {
		f.Final = f.RRFScore
		out = append(out, *f)
	}
	sortFused(out)
	return out
}

// sortFused orders by final score desc with chunkId ascending tiebreak.
func sortFused(out []fused) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Final != out[j].Final {
			return out[i].Final > out[j].Final
		}
		return out[i].ChunkID < out[j].ChunkID
	})
}
