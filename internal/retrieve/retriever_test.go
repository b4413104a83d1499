package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/record"
	"github.com/trailblazer-io/trailblazer/internal/store"
)

const testProvider = "dummy"

func retrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopKDense:       10,
		TopKBM25:        10,
		TopK:            5,
		RRFK:            60,
		MaxChars:        8000,
		MaxChunksPerDoc: 3,
		BoostsEnabled:   true,
		ExpandN2S:       true,
	}
}

type corpusDoc struct {
	docID string
	title string
	text  string
}

func seedCorpus(t *testing.T, st *store.MemoryStore, embedder embed.Embedder, docs []corpusDoc) {
	t.Helper()
	ctx := context.Background()
	for _, doc := range docs {
		require.NoError(t, st.UpsertDocument(ctx, record.Document{
			DocID:        doc.docID,
			SourceSystem: record.SourceConfluence,
			Title:        doc.title,
			URL:          "http://wiki/" + doc.docID,
			SpaceKey:     "DOCS",
			Collection:   "docs",
		}))
		chunkID := doc.docID + ":0000"
		require.NoError(t, st.UpsertChunk(ctx, "run-1", record.Chunk{
			ChunkID:      chunkID,
			DocID:        doc.docID,
			TextMD:       doc.text,
			Traceability: record.Traceability{Title: doc.title, URL: "http://wiki/" + doc.docID},
		}))
		vec, err := embedder.Embed(ctx, doc.text)
		require.NoError(t, err)
		require.NoError(t, st.UpsertEmbeddings(ctx, testProvider, embedder.ModelName(), embedder.Dimensions(), []store.EmbeddingRow{
			{ChunkID: chunkID, Vector: vec},
		}))
	}
}

func newTestRetriever(t *testing.T) (*Retriever, *store.MemoryStore, embed.Embedder) {
	return newTestRetrieverWithConfig(t, retrievalConfig())
}

func newTestRetrieverWithConfig(t *testing.T, cfg config.RetrievalConfig) (*Retriever, *store.MemoryStore, embed.Embedder) {
	t.Helper()
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	embedder, err := embed.NewDummyEmbedder("dummy-embedder", 64)
	require.NoError(t, err)

	seedCorpus(t, st, embedder, []corpusDoc{
		{"doc-k8s", "Deployment Runbook", "kubernetes deployment rollout procedure for the api cluster"},
		{"doc-n2s", "N2S Methodology Guide", "the n2s methodology covers discovery implementation and handoff"},
		{"doc-misc", "Team Notes March", "lunch menu planning and office chatter unrelated to delivery"},
	})
	return NewRetriever(st, embedder, nil, cfg, testProvider, nil), st, embedder
}

func TestRetrieve_HybridRanking(t *testing.T) {
	// Boosts off: the ranking under test is pure rank fusion, where the
	// lexical match decides the winner regardless of what dense returns.
	cfg := retrievalConfig()
	cfg.BoostsEnabled = false
	r, _, _ := newTestRetrieverWithConfig(t, cfg)

	resp, err := r.Retrieve(context.Background(), Request{Query: "kubernetes deployment rollout"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)

	assert.Equal(t, "doc-k8s", resp.Hits[0].DocID)
	assert.False(t, resp.DenseOnly)
	assert.NotEmpty(t, resp.Context)
	assert.Contains(t, resp.Context, "Deployment Runbook")

	top := resp.Hits[0]
	assert.Equal(t, 1, top.BM25Rank)
	assert.Positive(t, top.RRFScore)
	assert.Zero(t, top.BoostApplied)

	assert.Equal(t, len(resp.Context), resp.Summary.TotalCharacters)
	assert.Positive(t, resp.Summary.UniqueDocuments)
	assert.GreaterOrEqual(t, resp.Summary.ScoreStats.Max, resp.Summary.ScoreStats.Min)
}

func TestRetrieve_BoostsApplyByTitle(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	resp, err := r.Retrieve(context.Background(), Request{Query: "kubernetes deployment rollout", TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)

	byDoc := map[string]record.Hit{}
	for _, hit := range resp.Hits {
		byDoc[hit.DocID] = hit
	}

	if hit, ok := byDoc["doc-k8s"]; assert.True(t, ok) {
		assert.InDelta(t, BoostRunbook, hit.BoostApplied, 1e-12)
		assert.InDelta(t, hit.RRFScore+BoostRunbook, hit.Score, 1e-12)
	}
	if hit, ok := byDoc["doc-n2s"]; ok {
		assert.InDelta(t, BoostMethodology, hit.BoostApplied, 1e-12)
	}
	if hit, ok := byDoc["doc-misc"]; ok {
		assert.InDelta(t, PenaltyDated, hit.BoostApplied, 1e-12)
	}
}

func TestRetrieve_DomainExpansion(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	resp, err := r.Retrieve(context.Background(), Request{Query: "n2s methodology discovery"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, "doc-n2s", resp.Hits[0].DocID)
	assert.Contains(t, resp.ExpandedQuery, " OR ")
	assert.Contains(t, resp.ExpandedQuery, "net new software")
}

func TestRetrieve_Deterministic(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	first, err := r.Retrieve(context.Background(), Request{Query: "delivery methodology"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), Request{Query: "delivery methodology"})
		require.NoError(t, err)
		assert.Equal(t, first.Hits, again.Hits)
		assert.Equal(t, first.Context, again.Context)
	}
}

func TestRetrieve_SpaceWhitelist(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	resp, err := r.Retrieve(context.Background(), Request{
		Query:          "kubernetes deployment",
		SpaceWhitelist: []string{"OTHER"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits, "no chunk lives in the whitelisted space")
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	_, err := r.Retrieve(context.Background(), Request{Query: "  "})
	require.Error(t, err)
	assert.Equal(t, pperrors.ErrCodeInvalidQuery, pperrors.CodeOf(err))
}

type bm25FailingStore struct {
	*store.MemoryStore
}

func (s *bm25FailingStore) SearchBM25(context.Context, store.BM25Query) ([]store.Candidate, error) {
	return nil, pperrors.Newf(pperrors.ErrCodeDatabase, "text index unavailable")
}

func TestRetrieve_DenseOnlyFallback(t *testing.T) {
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	embedder, err := embed.NewDummyEmbedder("dummy-embedder", 64)
	require.NoError(t, err)
	seedCorpus(t, st, embedder, []corpusDoc{
		{"doc-k8s", "Deployment Runbook", "kubernetes deployment rollout procedure"},
	})

	r := NewRetriever(&bm25FailingStore{st}, embedder, nil, retrievalConfig(), testProvider, nil)
	resp, err := r.Retrieve(context.Background(), Request{Query: "kubernetes rollout"})
	require.NoError(t, err, "a lexical failure degrades, never aborts")

	assert.True(t, resp.DenseOnly)
	assert.Contains(t, resp.FallbackReason, "text index unavailable")
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, 0, resp.Hits[0].BM25Rank)
	assert.Positive(t, resp.Hits[0].DenseRank)
}
