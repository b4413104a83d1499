package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// DummyEmbedder generates embeddings with a hash-based bag-of-tokens scheme.
// It needs no network or model files and is fully deterministic, which makes
// it the baseline provider for tests and offline pipelines. Semantic quality
// is limited to lexical overlap.
type DummyEmbedder struct {
	model string
	dim   int

	mu     sync.RWMutex
	closed bool
}

// Token and n-gram weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewDummyEmbedder creates a hash-based embedder with the given dimension.
func NewDummyEmbedder(model string, dim int) (*DummyEmbedder, error) {
	if dim <= 0 {
		return nil, pperrors.Newf(pperrors.ErrCodeConfigInvalid,
			"dummy embedder dimension must be positive, got %d", dim)
	}
	if model == "" {
		model = "dummy-embedder"
	}
	return &DummyEmbedder{model: model, dim: dim}, nil
}

// Embed generates the embedding for a single text.
func (e *DummyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, pperrors.Newf(pperrors.ErrCodeInternal, "embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dim), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch embeds each text independently, preserving order.
func (e *DummyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *DummyEmbedder) Dimensions() int { return e.dim }

// ModelName returns the model identifier.
func (e *DummyEmbedder) ModelName() string { return e.model }

// Available always reports true while open.
func (e *DummyEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *DummyEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// generateVector accumulates token and character-trigram hashes.
func (e *DummyEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dim)

	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		vector[hashToIndex(token, e.dim)] += tokenWeight
	}

	compact := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	runes := []rune(compact)
	for i := 0; i+ngramSize <= len(runes); i++ {
		vector[hashToIndex(string(runes[i:i+ngramSize]), e.dim)] += ngramWeight
	}
	return vector
}

func hashToIndex(s string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}

var _ Embedder = (*DummyEmbedder)(nil)
