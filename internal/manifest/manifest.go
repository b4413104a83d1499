// Package manifest builds, persists, and compares embed manifests. A manifest
// records exactly what one embedding pass produced so later runs can decide
// whether re-embedding is necessary and why.
package manifest

import (
	"sort"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/canonical"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// Change reasons produced by Compare. CONTENT_CHANGE covers any chunk set
// difference: added, removed, or re-chunked content all shift the set hash.
const (
	ReasonProviderChange    = "PROVIDER_CHANGE"
	ReasonModelChange       = "MODEL_CHANGE"
	ReasonDimensionChange   = "DIMENSION_CHANGE"
	ReasonTokenizerChange   = "TOKENIZER_CHANGE"
	ReasonChunkerChange     = "CHUNKER_CHANGE"
	ReasonChunkConfigChange = "CHUNK_CONFIG_CHANGE"
	ReasonContentChange     = "CONTENT_CHANGE"
)

// chunkTuple is one element of the hashed chunk set. Field order inside the
// tuple is fixed by the array encoding, not by key names.
type chunkTuple = [3]any

// ChunkSetHash hashes the identity of a chunk set: the canonical JSON list of
// [chunkId, tokenCount, contentHash] tuples sorted by chunkId. Text bodies do
// not participate directly; contentHash already pins them.
func ChunkSetHash(chunks []record.Chunk) (string, error) {
	tuples := make([]chunkTuple, len(chunks))
	for i, c := range chunks {
		tuples[i] = chunkTuple{c.ChunkID, c.TokenCount, c.ContentHash}
	}
	sort.Slice(tuples, func(i, j int) bool {
		return tuples[i][0].(string) < tuples[j][0].(string)
	})
	return canonical.Hash(tuples)
}

// BuildParams carries everything a manifest records about an embedding pass.
type BuildParams struct {
	RunID           string
	GitCommit       string
	Provider        string
	Model           string
	Dimension       int
	Tokenizer       record.Tokenizer
	EnricherVersion string
	ChunkerVersion  string
	ChunkConfig     record.ChunkConfig
	Fingerprints    []record.Fingerprint
	Chunks          []record.Chunk
	ChunksEmbedded  int
	Now             time.Time
}

// Build assembles a manifest. Doc fingerprints are sorted by document id so
// the output is deterministic regardless of input order.
func Build(p BuildParams) (record.Manifest, error) {
	setHash, err := ChunkSetHash(p.Chunks)
	if err != nil {
		return record.Manifest{}, err
	}

	fps := make([]record.DocFingerprint, len(p.Fingerprints))
	for i, fp := range p.Fingerprints {
		fps[i] = record.DocFingerprint{DocID: fp.ID, FingerprintSHA256: fp.FingerprintSHA256}
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i].DocID < fps[j].DocID })

	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return record.Manifest{
		RunID:           p.RunID,
		Timestamp:       now.UTC().Format(time.RFC3339),
		GitCommit:       p.GitCommit,
		Provider:        p.Provider,
		Model:           p.Model,
		Dimension:       p.Dimension,
		Tokenizer:       p.Tokenizer,
		EnricherVersion: p.EnricherVersion,
		ChunkerVersion:  p.ChunkerVersion,
		ChunkConfig:     p.ChunkConfig,
		DocFingerprints: fps,
		ChunkSetHash:    setHash,
		ChunksEmbedded:  p.ChunksEmbedded,
		TotalChunks:     len(p.Chunks),
	}, nil
}

// Write persists a manifest as indented JSON.
func Write(path string, m record.Manifest) error {
	return artifacts.WriteJSON(path, m)
}

// Load reads a previously written manifest.
func Load(path string) (record.Manifest, error) {
	var m record.Manifest
	if err := artifacts.ReadJSON(path, &m); err != nil {
		return record.Manifest{}, err
	}
	return m, nil
}

// Compare reports whether the current manifest differs from the previous one
// in any way that matters for embedding validity, and why. Reasons are
// returned in a fixed order; identical manifests yield (false, nil).
func Compare(current, previous record.Manifest) (bool, []string) {
	var reasons []string
	if current.Provider != previous.Provider {
		reasons = append(reasons, ReasonProviderChange)
	}
	if current.Model != previous.Model {
		reasons = append(reasons, ReasonModelChange)
	}
	if current.Dimension != previous.Dimension {
		reasons = append(reasons, ReasonDimensionChange)
	}
	if current.Tokenizer != previous.Tokenizer {
		reasons = append(reasons, ReasonTokenizerChange)
	}
	if current.ChunkerVersion != previous.ChunkerVersion {
		reasons = append(reasons, ReasonChunkerChange)
	}
	if current.ChunkConfig != previous.ChunkConfig {
		reasons = append(reasons, ReasonChunkConfigChange)
	}
	if current.ChunkSetHash != previous.ChunkSetHash {
		reasons = append(reasons, ReasonContentChange)
	}
	return len(reasons) > 0, reasons
}
