// Package embed provides embedding providers and the run loader that
// materializes documents, chunks, and vectors in the relational store.
package embed

import (
	"context"
	"math"

	"github.com/trailblazer-io/trailblazer/internal/config"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// Batch sizing bounds.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// Provider names accepted by New.
const (
	ProviderDummy  = "dummy"
	ProviderRemote = "remote"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// New builds the configured embedder, wrapped with an LRU cache when
// cfg.CacheSize > 0.
func New(cfg config.EmbedConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderDummy:
		inner, err = NewDummyEmbedder(cfg.Model, cfg.Dimension)
	case ProviderRemote:
		inner, err = NewRemoteEmbedder(cfg)
	default:
		return nil, pperrors.Newf(pperrors.ErrCodeConfigInvalid,
			"unknown embed provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}

// normalizeVector scales a vector to unit length. Zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// ZeroVector returns the substitute vector recorded for chunks whose
// embedding permanently failed.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
