package retrieve

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/events"
	"github.com/trailblazer-io/trailblazer/internal/record"
	"github.com/trailblazer-io/trailblazer/internal/store"
)

// Request is one retrieval call.
type Request struct {
	Query string
	// TopK overrides the configured hit count when positive.
	TopK int
	// SpaceWhitelist restricts both search paths to the given space keys.
	SpaceWhitelist []string
	// Collection optionally filters the lexical path to one collection.
	Collection string
}

// Response carries the hits, the packed context, and the request summary.
type Response struct {
	Hits    []record.Hit            `json:"hits"`
	Context string                  `json:"context"`
	Summary record.RetrievalSummary `json:"summary"`
	// DenseOnly is set when the lexical path failed and the response was
	// served from dense candidates alone.
	DenseOnly bool `json:"denseOnly,omitempty"`
	// FallbackReason explains a dense-only response.
	FallbackReason string `json:"fallbackReason,omitempty"`
	// ExpandedQuery is the lexical query after domain expansion.
	ExpandedQuery string `json:"expandedQuery,omitempty"`
}

// Retriever runs the hybrid retrieval pipeline: embed the query, dense and
// lexical candidates in parallel, RRF fusion, domain boosts, top-k, packing.
type Retriever struct {
	st         store.Store
	embedder   embed.Embedder
	classifier QueryClassifier
	cfg        config.RetrievalConfig
	provider   string
	emitter    *events.Emitter
}

// NewRetriever assembles a retriever. The embedder must match the provider
// and dimension the corpus was embedded with; wrap it in the LRU cache when
// queries repeat.
func NewRetriever(st store.Store, embedder embed.Embedder, classifier QueryClassifier, cfg config.RetrievalConfig, provider string, emitter *events.Emitter) *Retriever {
	if classifier == nil {
		classifier = NewDomainClassifier()
	}
	if emitter == nil {
		emitter = events.Nop()
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	return &Retriever{
		st:         st,
		embedder:   embedder,
		classifier: classifier,
		cfg:        cfg,
		provider:   provider,
		emitter:    emitter,
	}
}

// Retrieve answers one query. Results are deterministic for identical store
// state and query; ties break by chunkId.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, pperrors.New(pperrors.ErrCodeInvalidQuery, "empty query", nil)
	}
	r.state("received")

	classification := r.classifier.Classify(query)
	lexicalQuery := query
	if r.cfg.ExpandN2S && classification.Domain {
		lexicalQuery = classification.Expanded
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	r.state("embedded")

	dense, lexical, fallbackReason, err := r.candidates(ctx, req, vector, lexicalQuery)
	if err != nil {
		return nil, err
	}

	candidates := fuseRRF(dense, lexical, r.cfg.RRFK)
	r.state("fused")

	if r.cfg.BoostsEnabled {
		applyBoosts(candidates)
	}
	r.state("boosted")

	hits := r.selectHits(candidates, req.TopK)
	packedContext, packed := PackContext(hits, r.cfg.MaxChars, r.cfg.MaxChunksPerDoc)
	r.state("packed")

	resp := &Response{
		Hits:           packed,
		Context:        packedContext,
		DenseOnly:      fallbackReason != "",
		FallbackReason: fallbackReason,
		Summary:        summarize(packed, packedContext, time.Since(start)),
	}
	if lexicalQuery != query {
		resp.ExpandedQuery = lexicalQuery
	}
	r.state("returned")
	return resp, nil
}

// candidates runs both search paths concurrently. The dense path is
// required; a lexical failure degrades to dense-only with a recorded reason.
func (r *Retriever) candidates(ctx context.Context, req Request, vector []float32, lexicalQuery string) (dense, lexical []store.Candidate, fallbackReason string, err error) {
	topkDense := r.cfg.TopKDense
	if topkDense <= 0 {
		topkDense = 50
	}
	topkBM25 := r.cfg.TopKBM25
	if topkBM25 <= 0 {
		topkBM25 = 50
	}

	var lexicalErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var denseErr error
		dense, denseErr = r.st.SearchDense(gctx, store.DenseQuery{
			Vector:         vector,
			Provider:       r.provider,
			Dimension:      r.embedder.Dimensions(),
			TopK:           topkDense,
			SpaceWhitelist: req.SpaceWhitelist,
		})
		return denseErr
	})
	g.Go(func() error {
		lexical, lexicalErr = r.st.SearchBM25(gctx, store.BM25Query{
			Query:          lexicalQuery,
			TopK:           topkBM25,
			SpaceWhitelist: req.SpaceWhitelist,
			Collection:     req.Collection,
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, "", err
	}
	r.state("dense_done")

	if lexicalErr != nil {
		r.emitter.Emit(events.Event{
			Level:  "WARN",
			Stage:  "retrieve",
			Op:     "retrieve.fallback",
			Status: events.StatusOK,
			Reason: lexicalErr.Error(),
		})
		return dense, nil, lexicalErr.Error(), nil
	}
	r.state("bm25_done")
	return dense, lexical, "", nil
}

// selectHits takes the top-k fused candidates above the score floor.
func (r *Retriever) selectHits(candidates []fused, topK int) []record.Hit {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if topK <= 0 {
		topK = 10
	}

	hits := make([]record.Hit, 0, topK)
	for _, c := range candidates {
		if len(hits) == topK {
			break
		}
		if r.cfg.MinScore > 0 && c.Final < r.cfg.MinScore {
			continue
		}
		hits = append(hits, record.Hit{
			ChunkID:      c.ChunkID,
			DocID:        c.DocID,
			Title:        c.Title,
			URL:          c.URL,
			SourceSystem: c.SourceSystem,
			TextMD:       c.TextMD,
			Score:        c.Final,
			BoostApplied: c.Boost,
			DenseRank:    c.DenseRank,
			BM25Rank:     c.BM25Rank,
			RRFScore:     c.RRFScore,
		})
	}
	return hits
}

func summarize(hits []record.Hit, packedContext string, elapsed time.Duration) record.RetrievalSummary {
	summary := record.RetrievalSummary{
		TotalCharacters: len(packedContext),
		TimingMS:        elapsed.Milliseconds(),
	}
	docs := map[string]bool{}
	for i, hit := range hits {
		docs[hit.DocID] = true
		if i == 0 || hit.Score < summary.ScoreStats.Min {
			summary.ScoreStats.Min = hit.Score
		}
		if hit.Score > summary.ScoreStats.Max {
			summary.ScoreStats.Max = hit.Score
		}
		summary.ScoreStats.Avg += hit.Score
	}
	summary.UniqueDocuments = len(docs)
	if len(hits) > 0 {
		summary.ScoreStats.Avg /= float64(len(hits))
	}
	return summary
}

// state emits one line of the request state machine:
// received, embedded, dense_done, bm25_done, fused, boosted, packed, returned.
func (r *Retriever) state(name string) {
	r.emitter.Emit(events.Event{
		Stage:  "retrieve",
		Op:     "retrieve." + name,
		Status: events.StatusOK,
	})
}
