// Package store persists documents, chunks, embeddings, and run coordination
// rows, and serves the dense and lexical retrieval queries.
//
// Two backends implement Store: PostgresStore (pgvector + full-text search,
// the system of record) and MemoryStore (hnsw + bleve, for tests and
// databaseless operation). Both honor the same ordering and claim semantics.
package store

import (
	"context"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/record"
)

// ClaimPhase names a claimable pipeline phase.
type ClaimPhase string

const (
	ClaimChunk ClaimPhase = "chunk"
	ClaimEmbed ClaimPhase = "embed"
)

// PreStates lists the statuses a run must hold to be claimable for the phase.
func (p ClaimPhase) PreStates() []record.RunStatus {
	switch p {
	case ClaimChunk:
		return []record.RunStatus{record.StatusNormalized, record.StatusReset}
	case ClaimEmbed:
		return []record.RunStatus{record.StatusChunked}
	}
	return nil
}

// RecoveryState is the status a stale active claim is returned to.
func (p ClaimPhase) RecoveryState() record.RunStatus {
	switch p {
	case ClaimChunk:
		return record.StatusNormalized
	case ClaimEmbed:
		return record.StatusChunked
	}
	return record.StatusReset
}

// ActiveState is the status held while a worker owns the run.
func (p ClaimPhase) ActiveState() record.RunStatus {
	if p == ClaimChunk {
		return record.StatusChunking
	}
	return record.StatusEmbedding
}

// DoneState is the status set by MarkComplete.
func (p ClaimPhase) DoneState() record.RunStatus {
	if p == ClaimChunk {
		return record.StatusChunked
	}
	return record.StatusEmbedded
}

// EmbeddingRow pairs a chunk with its vector for upsert.
type EmbeddingRow struct {
	ChunkID string
	Vector  []float32
}

// DenseQuery is a nearest-neighbor search over chunk embeddings.
type DenseQuery struct {
	Vector    []float32
	Provider  string
	Dimension int
	TopK      int
	// SpaceWhitelist restricts results to the given space keys when non-empty.
	SpaceWhitelist []string
}

// BM25Query is a lexical search over chunk text.
type BM25Query struct {
	Query string
	TopK  int
	// SpaceWhitelist restricts results to the given space keys when non-empty.
	SpaceWhitelist []string
	// Collection optionally filters to one collection.
	Collection string
}

// Candidate is one retrieval candidate from either search path.
type Candidate struct {
	ChunkID      string
	DocID        string
	Title        string
	URL          string
	SourceSystem record.SourceSystem
	TextMD       string
	Score        float64
}

// ClaimResult reports one claim attempt.
type ClaimResult struct {
	// Run is the claimed row, nil when no work was available.
	Run *record.ProcessedRun
	// Recovered counts stale claims returned to the backlog first.
	Recovered int
}

// Totals carries the counters recorded when a phase completes.
type Totals struct {
	TotalDocs      int
	TotalChunks    int
	EmbeddedChunks int
}

// Store is the relational store contract shared by both backends.
type Store interface {
	// UpsertDocument inserts or overwrites a document row by docId.
	UpsertDocument(ctx context.Context, doc record.Document) error

	// DocumentFingerprints returns stored enrichment fingerprints for the
	// given doc ids. Absent documents are omitted from the map.
	DocumentFingerprints(ctx context.Context, docIDs []string) (map[string]string, error)

	// UpsertChunk inserts or overwrites a chunk row by chunkId, recording the
	// run that loaded it. Space and collection filters resolve through the
	// owning document row.
	UpsertChunk(ctx context.Context, runID string, chunk record.Chunk) error

	// UpsertEmbeddings writes vectors keyed by (chunkId, provider).
	UpsertEmbeddings(ctx context.Context, provider, model string, dimension int, rows []EmbeddingRow) error

	// EmbeddingDimension returns the dimension of existing embeddings for the
	// provider, or 0 when none exist.
	EmbeddingDimension(ctx context.Context, provider string) (int, error)

	// SearchDense returns the nearest chunks by cosine similarity, ordered by
	// score desc with docId then chunkId tiebreaks.
	SearchDense(ctx context.Context, q DenseQuery) ([]Candidate, error)

	// SearchBM25 returns chunks ranked by the backend's text relevance.
	SearchBM25(ctx context.Context, q BM25Query) ([]Candidate, error)

	// RegisterRun inserts a processed_runs row for a freshly normalized run.
	// Registering an existing run refreshes its doc totals.
	RegisterRun(ctx context.Context, run record.ProcessedRun) error

	// ClaimRun recovers stale claims for the phase, then claims the oldest
	// eligible run by normalizedAt. A nil Run means no work.
	ClaimRun(ctx context.Context, phase ClaimPhase, workerID string, ttl time.Duration) (ClaimResult, error)

	// MarkComplete transitions a claimed run to the phase's done state and
	// clears the claim.
	MarkComplete(ctx context.Context, runID string, phase ClaimPhase, totals Totals) error

	// ReleaseClaim returns a claimed run to the phase's recovery state
	// without marking it complete.
	ReleaseClaim(ctx context.Context, runID string, phase ClaimPhase) error

	// ResetRuns returns the given runs to the reset status. With purge, their
	// chunks and embeddings are deleted as well.
	ResetRuns(ctx context.Context, runIDs []string, purge bool) (int, error)

	// ListRuns returns all coordination rows ordered by normalizedAt.
	ListRuns(ctx context.Context) ([]record.ProcessedRun, error)

	// GetRun returns one coordination row, or nil when absent.
	GetRun(ctx context.Context, runID string) (*record.ProcessedRun, error)

	// Close releases backend resources.
	Close() error
}
