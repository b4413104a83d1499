package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// MemoryStore implements Store entirely in memory: an HNSW graph per
// provider for the dense path and a bleve index for the lexical path. It
// backs tests and databaseless operation; claim semantics match the
// Postgres backend, serialized under one mutex instead of row locks.
type MemoryStore struct {
	mu sync.Mutex

	docs       map[string]record.Document
	chunks     map[string]memChunk
	embeddings map[string]map[string]memEmbedding
	graphs     map[string]*providerGraph
	runs       map[string]*record.ProcessedRun
	bm25       bleve.Index

	nowFn  func() time.Time
	closed bool
}

type memChunk struct {
	record.Chunk
	runID string
}

type memEmbedding struct {
	model     string
	dimension int
	vector    []float32
}

// providerGraph maps string chunk ids onto the graph's uint64 keys. Replaced
// ids are lazily deleted: the stale node stays in the graph but loses its
// key mapping and never surfaces in results.
type providerGraph struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

func newProviderGraph() *providerGraph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 40
	g.Ml = 0.25
	return &providerGraph{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func (g *providerGraph) add(id string, vec []float32) {
	if oldKey, ok := g.idMap[id]; ok {
		delete(g.keyMap, oldKey)
		delete(g.idMap, id)
	}
	key := g.nextKey
	g.nextKey++
	g.graph.Add(hnsw.MakeNode(key, vec))
	g.idMap[id] = key
	g.keyMap[key] = id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeInternal, err)
	}
	return &MemoryStore{
		docs:       make(map[string]record.Document),
		chunks:     make(map[string]memChunk),
		embeddings: make(map[string]map[string]memEmbedding),
		graphs:     make(map[string]*providerGraph),
		runs:       make(map[string]*record.ProcessedRun),
		bm25:       idx,
		nowFn:      time.Now,
	}, nil
}

// UpsertDocument inserts or overwrites a document.
func (s *MemoryStore) UpsertDocument(ctx context.Context, doc record.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.DocID] = doc
	return nil
}

// DocumentFingerprints returns stored fingerprints for the given doc ids.
func (s *MemoryStore) DocumentFingerprints(ctx context.Context, docIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, id := range docIDs {
		if doc, ok := s.docs[id]; ok && doc.Fingerprint != "" {
			out[id] = doc.Fingerprint
		}
	}
	return out, nil
}

type bm25Doc struct {
	Text string `json:"text"`
}

// UpsertChunk inserts or overwrites a chunk and indexes its text.
func (s *MemoryStore) UpsertChunk(ctx context.Context, runID string, chunk record.Chunk) error {
	s.mu.Lock()
	s.chunks[chunk.ChunkID] = memChunk{Chunk: chunk, runID: runID}
	s.mu.Unlock()
	if err := s.bm25.Index(chunk.ChunkID, bm25Doc{Text: chunk.TextMD}); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeInternal, err)
	}
	return nil
}

// UpsertEmbeddings writes vectors keyed by (chunkId, provider).
func (s *MemoryStore) UpsertEmbeddings(ctx context.Context, provider, model string, dimension int, rows []EmbeddingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byChunk, ok := s.embeddings[provider]
	if !ok {
		byChunk = make(map[string]memEmbedding)
		s.embeddings[provider] = byChunk
	}
	graph, ok := s.graphs[provider]
	if !ok {
		graph = newProviderGraph()
		s.graphs[provider] = graph
	}

	for _, r := range rows {
		if len(r.Vector) != dimension {
			return pperrors.DimensionMismatch(len(r.Vector), dimension)
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		normalizeInPlace(vec)
		byChunk[r.ChunkID] = memEmbedding{model: model, dimension: dimension, vector: vec}
		graph.add(r.ChunkID, vec)
	}
	return nil
}

// EmbeddingDimension returns the dimension of stored embeddings for the
// provider, or 0 when none exist.
func (s *MemoryStore) EmbeddingDimension(ctx context.Context, provider string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.embeddings[provider] {
		return e.dimension, nil
	}
	return 0, nil
}

// SearchDense finds nearest chunks via the provider's HNSW graph, then
// re-scores exactly and orders deterministically.
func (s *MemoryStore) SearchDense(ctx context.Context, q DenseQuery) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	graph := s.graphs[q.Provider]
	byChunk := s.embeddings[q.Provider]
	if graph == nil || len(byChunk) == 0 || q.TopK <= 0 {
		return []Candidate{}, nil
	}
	if len(q.Vector) != q.Dimension {
		return nil, pperrors.DimensionMismatch(len(q.Vector), q.Dimension)
	}

	query := make([]float32, len(q.Vector))
	copy(query, q.Vector)
	normalizeInPlace(query)

	// Overfetch to survive whitelist filtering and lazy-deleted nodes.
	k := q.TopK*4 + 16
	if k > graph.graph.Len() {
		k = graph.graph.Len()
	}
	nodes := graph.graph.Search(query, k)

	var out []Candidate
	for _, node := range nodes {
		chunkID, ok := graph.keyMap[node.Key]
		if !ok {
			continue
		}
		emb, ok := byChunk[chunkID]
		if !ok || emb.dimension != q.Dimension {
			continue
		}
		chunk, ok := s.chunks[chunkID]
		if !ok {
			continue
		}
		if !s.spaceAllowed(chunk.DocID, q.SpaceWhitelist) {
			continue
		}
		out = append(out, Candidate{
			ChunkID:      chunk.ChunkID,
			DocID:        chunk.DocID,
			Title:        chunk.Traceability.Title,
			URL:          chunk.Traceability.URL,
			SourceSystem: chunk.Traceability.SourceSystem,
			TextMD:       chunk.TextMD,
			Score:        1 - float64(hnsw.CosineDistance(query, emb.vector)),
		})
	}
	sortCandidates(out)
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

// SearchBM25 runs a bleve match query over chunk text.
func (s *MemoryStore) SearchBM25(ctx context.Context, q BM25Query) ([]Candidate, error) {
	if strings.TrimSpace(q.Query) == "" || q.TopK <= 0 {
		return []Candidate{}, nil
	}

	// The OR-expanded query form is plain terms for a match query.
	text := strings.ReplaceAll(q.Query, " OR ", " ")
	match := bleve.NewMatchQuery(text)
	match.SetField("text")
	req := bleve.NewSearchRequest(match)
	req.Size = q.TopK*4 + 16

	res, err := s.bm25.SearchInContext(ctx, req)
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeInternal, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Candidate
	for _, hit := range res.Hits {
		chunk, ok := s.chunks[hit.ID]
		if !ok {
			continue
		}
		if !s.spaceAllowed(chunk.DocID, q.SpaceWhitelist) {
			continue
		}
		if q.Collection != "" {
			if doc, ok := s.docs[chunk.DocID]; !ok || doc.Collection != q.Collection {
				continue
			}
		}
		out = append(out, Candidate{
			ChunkID:      chunk.ChunkID,
			DocID:        chunk.DocID,
			Title:        chunk.Traceability.Title,
			URL:          chunk.Traceability.URL,
			SourceSystem: chunk.Traceability.SourceSystem,
			TextMD:       chunk.TextMD,
			Score:        hit.Score,
		})
	}
	sortCandidates(out)
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

// spaceAllowed checks the whitelist against the owning document's space key.
// Callers hold s.mu.
func (s *MemoryStore) spaceAllowed(docID string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}
	doc, ok := s.docs[docID]
	if !ok {
		return false
	}
	for _, space := range whitelist {
		if doc.SpaceKey == space {
			return true
		}
	}
	return false
}

func sortCandidates(out []Candidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].ChunkID < out[j].ChunkID
	})
}

// RegisterRun inserts a coordination row, refreshing totals if present.
func (s *MemoryStore) RegisterRun(ctx context.Context, run record.ProcessedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status == "" {
		run.Status = record.StatusNormalized
	}
	if existing, ok := s.runs[run.RunID]; ok {
		existing.TotalDocs = run.TotalDocs
		existing.CodeVersion = run.CodeVersion
		existing.UpdatedAt = s.nowFn()
		return nil
	}
	run.UpdatedAt = s.nowFn()
	copied := run
	s.runs[run.RunID] = &copied
	return nil
}

// ClaimRun recovers stale claims for the phase, then claims the oldest
// eligible run by normalizedAt.
func (s *MemoryStore) ClaimRun(ctx context.Context, phase ClaimPhase, workerID string, ttl time.Duration) (ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	var result ClaimResult

	for _, run := range s.runs {
		if run.Status == phase.ActiveState() && run.ClaimedAt != nil && run.ClaimedAt.Before(now.Add(-ttl)) {
			run.Status = phase.RecoveryState()
			run.ClaimedBy = nil
			run.ClaimedAt = nil
			run.UpdatedAt = now
			result.Recovered++
		}
	}

	var candidate *record.ProcessedRun
	for _, run := range s.runs {
		if !statusIn(run.Status, phase.PreStates()) {
			continue
		}
		if candidate == nil || run.NormalizedAt.Before(candidate.NormalizedAt) {
			candidate = run
		}
	}
	if candidate == nil {
		return result, nil
	}

	candidate.Status = phase.ActiveState()
	candidate.ClaimedBy = &workerID
	claimedAt := now
	candidate.ClaimedAt = &claimedAt
	switch phase {
	case ClaimChunk:
		candidate.ChunkStartedAt = &claimedAt
	case ClaimEmbed:
		candidate.EmbedStartedAt = &claimedAt
	}
	candidate.UpdatedAt = now

	copied := *candidate
	result.Run = &copied
	return result, nil
}

func statusIn(status record.RunStatus, states []record.RunStatus) bool {
	for _, st := range states {
		if status == st {
			return true
		}
	}
	return false
}

// MarkComplete transitions a run to the phase's done state.
func (s *MemoryStore) MarkComplete(ctx context.Context, runID string, phase ClaimPhase, totals Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return pperrors.Newf(pperrors.ErrCodeDatabase, "run %s not found", runID)
	}
	now := s.nowFn()
	run.Status = phase.DoneState()
	run.ClaimedBy = nil
	run.ClaimedAt = nil
	if totals.TotalDocs > 0 {
		run.TotalDocs = totals.TotalDocs
	}
	if totals.TotalChunks > 0 {
		tc := totals.TotalChunks
		run.TotalChunks = &tc
	}
	if totals.EmbeddedChunks > 0 {
		ec := totals.EmbeddedChunks
		run.EmbeddedChunks = &ec
	}
	switch phase {
	case ClaimChunk:
		run.ChunkCompletedAt = &now
	case ClaimEmbed:
		run.EmbedCompletedAt = &now
	}
	run.UpdatedAt = now
	return nil
}

// ReleaseClaim returns a claimed run to the backlog.
func (s *MemoryStore) ReleaseClaim(ctx context.Context, runID string, phase ClaimPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status != phase.ActiveState() {
		return nil
	}
	run.Status = phase.RecoveryState()
	run.ClaimedBy = nil
	run.ClaimedAt = nil
	run.UpdatedAt = s.nowFn()
	return nil
}

// ResetRuns returns runs to the reset status, optionally purging their
// chunks and embeddings.
func (s *MemoryStore) ResetRuns(ctx context.Context, runIDs []string, purge bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, runID := range runIDs {
		run, ok := s.runs[runID]
		if !ok {
			continue
		}
		if purge {
			for chunkID, chunk := range s.chunks {
				if chunk.runID != runID {
					continue
				}
				delete(s.chunks, chunkID)
				_ = s.bm25.Delete(chunkID)
				for provider, byChunk := range s.embeddings {
					delete(byChunk, chunkID)
					if graph := s.graphs[provider]; graph != nil {
						if key, ok := graph.idMap[chunkID]; ok {
							delete(graph.keyMap, key)
							delete(graph.idMap, chunkID)
						}
					}
				}
			}
		}
		run.Status = record.StatusReset
		run.ClaimedBy = nil
		run.ClaimedAt = nil
		run.TotalChunks = nil
		run.EmbeddedChunks = nil
		run.UpdatedAt = s.nowFn()
		reset++
	}
	return reset, nil
}

// ListRuns returns all coordination rows ordered by normalizedAt.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]record.ProcessedRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]record.ProcessedRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NormalizedAt.Before(out[j].NormalizedAt)
	})
	return out, nil
}

// GetRun returns one coordination row, or nil when absent.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*record.ProcessedRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

// Close closes the lexical index.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bm25.Close()
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return
	}
	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
}

var _ Store = (*MemoryStore)(nil)
