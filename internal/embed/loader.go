package embed

import (
	"context"
	"os"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/events"
	"github.com/trailblazer-io/trailblazer/internal/manifest"
	"github.com/trailblazer-io/trailblazer/internal/record"
	"github.com/trailblazer-io/trailblazer/internal/store"
)

// LoadOptions configures one embedding pass.
type LoadOptions struct {
	Provider  string
	Model     string
	Dimension int
	BatchSize int
	// MaxDocs and MaxChunks cap the pass (0 = no cap).
	MaxDocs   int
	MaxChunks int
	// ChangedOnly skips documents whose stored fingerprint matches.
	ChangedOnly bool
	// ReembedAll overrides skip logic and the dimension guard.
	ReembedAll bool
	// DryRunCost estimates token usage without provider calls or writes.
	DryRunCost bool
	// PricePer1K prices the dry-run estimate (0 = tokens only).
	PricePer1K float64
}

// Metrics reports one embedding pass.
type Metrics struct {
	Docs           int     `json:"docs"`
	DocsSkipped    int     `json:"docsSkipped"`
	Chunks         int     `json:"chunks"`
	ChunksEmbedded int     `json:"chunksEmbedded"`
	ZeroVectors    int     `json:"zeroVectors"`
	Errors         int     `json:"errors"`
	TokensEstimate int     `json:"tokensEstimate"`
	EstimatedCost  float64 `json:"estimatedCost,omitempty"`
	DurationMS     int64   `json:"durationMs"`
	Skipped        bool    `json:"skipped,omitempty"`
	SkipReasons    []string `json:"skipReasons,omitempty"`
}

// Assurance is embed/embed_assurance.json.
type Assurance struct {
	RunID     string  `json:"runId"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	Dimension int     `json:"dimension"`
	DryRun    bool    `json:"dryRun,omitempty"`
	Metrics   Metrics `json:"metrics"`
}

// ManifestMeta carries the pipeline identifiers recorded in the manifest.
type ManifestMeta struct {
	Tokenizer       record.Tokenizer
	EnricherVersion string
	ChunkerVersion  string
	ChunkConfig     record.ChunkConfig
	GitCommit       string
}

// Loader materializes a run's documents, chunks, and embeddings in the
// relational store and writes the embed assurance and manifest artifacts.
type Loader struct {
	ws       *artifacts.Workspace
	st       store.Store
	provider Embedder
	emitter  *events.Emitter
	meta     ManifestMeta
}

// NewLoader creates a run loader.
func NewLoader(ws *artifacts.Workspace, st store.Store, provider Embedder, emitter *events.Emitter, meta ManifestMeta) *Loader {
	if emitter == nil {
		emitter = events.Nop()
	}
	return &Loader{ws: ws, st: st, provider: provider, emitter: emitter, meta: meta}
}

// LoadRun embeds one run per the options. Individual chunk failures degrade
// to zero vectors and are counted; only structural problems (missing input,
// dimension conflicts, database unavailability) abort the pass.
func (l *Loader) LoadRun(ctx context.Context, runID string, opts LoadOptions) (Metrics, error) {
	start := time.Now()
	l.emitter.Emit(events.Event{
		Level: "INFO", Stage: artifacts.PhaseEmbed, Op: "embed.run", Status: events.StatusStart,
		Provider: opts.Provider, Model: opts.Model, Dimension: opts.Dimension,
	})

	fail := func(err error) (Metrics, error) {
		l.emitter.Fail(artifacts.PhaseEmbed, "embed.run", time.Since(start), err.Error())
		return Metrics{}, err
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}

	docs, err := l.readDocs(runID)
	if err != nil {
		return fail(err)
	}
	chunksByDoc, allChunks, err := l.readChunks(runID)
	if err != nil {
		return fail(err)
	}
	fingerprints := l.readFingerprints(runID)

	if !opts.ReembedAll && !opts.DryRunCost {
		existing, err := l.st.EmbeddingDimension(ctx, opts.Provider)
		if err != nil {
			return fail(err)
		}
		if existing != 0 && existing != opts.Dimension {
			return fail(pperrors.DimensionMismatch(existing, opts.Dimension))
		}
	}

	var (
		metrics Metrics
		stored  map[string]string
	)
	if opts.ChangedOnly && !opts.ReembedAll {
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		if !opts.DryRunCost {
			stored, err = l.st.DocumentFingerprints(ctx, ids)
			if err != nil {
				return fail(err)
			}
		}
	}

	var (
		batchTexts []string
		batchIDs   []string
		manifestFP []record.Fingerprint
	)

	flush := func() error {
		if len(batchTexts) == 0 {
			return nil
		}
		embedded, zeroed, err := l.embedBatch(ctx, batchTexts, batchIDs, opts)
		if err != nil {
			return err
		}
		metrics.ChunksEmbedded += embedded
		metrics.ZeroVectors += zeroed
		metrics.Errors += zeroed
		l.emitter.Emit(events.Event{
			Level: "INFO", Stage: artifacts.PhaseEmbed, Op: "embed.batch", Status: events.StatusOK,
			Counts: &events.Counts{Chunks: metrics.ChunksEmbedded},
			Provider: opts.Provider, Model: opts.Model, Dimension: opts.Dimension,
		})
		batchTexts = batchTexts[:0]
		batchIDs = batchIDs[:0]
		return nil
	}

	for _, doc := range docs {
		if opts.MaxDocs > 0 && metrics.Docs+metrics.DocsSkipped >= opts.MaxDocs {
			break
		}
		fp := fingerprints[doc.ID]
		if stored != nil && fp != "" && stored[doc.ID] == fp {
			metrics.DocsSkipped++
			continue
		}
		metrics.Docs++
		if fp != "" {
			manifestFP = append(manifestFP, record.Fingerprint{ID: doc.ID, FingerprintSHA256: fp})
		}

		if !opts.DryRunCost {
			if err := l.st.UpsertDocument(ctx, docRow(doc, fp)); err != nil {
				return fail(err)
			}
		}

		for _, chunk := range chunksByDoc[doc.ID] {
			if opts.MaxChunks > 0 && metrics.Chunks >= opts.MaxChunks {
				break
			}
			metrics.Chunks++
			metrics.TokensEstimate += chunk.TokenCount
			if opts.DryRunCost {
				continue
			}
			if err := l.st.UpsertChunk(ctx, runID, chunk); err != nil {
				return fail(err)
			}
			batchTexts = append(batchTexts, chunk.TextMD)
			batchIDs = append(batchIDs, chunk.ChunkID)
			if len(batchTexts) >= opts.BatchSize {
				if err := flush(); err != nil {
					return fail(err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return fail(err)
	}

	metrics.DurationMS = time.Since(start).Milliseconds()
	if opts.DryRunCost {
		metrics.EstimatedCost = float64(metrics.TokensEstimate) / 1000 * opts.PricePer1K
		l.emitter.End(artifacts.PhaseEmbed, "embed.run", time.Since(start),
			events.Counts{Docs: metrics.Docs, Chunks: metrics.Chunks, Tokens: metrics.TokensEstimate})
		return metrics, nil
	}

	if err := l.writeArtifacts(runID, opts, metrics, manifestFP, allChunks); err != nil {
		return fail(err)
	}

	l.emitter.End(artifacts.PhaseEmbed, "embed.run", time.Since(start),
		events.Counts{Docs: metrics.Docs, Chunks: metrics.ChunksEmbedded, Tokens: metrics.TokensEstimate})
	return metrics, nil
}

// EmbedIfChanged skips the pass when a prior manifest exists and nothing
// that affects embeddings has changed since.
func (l *Loader) EmbedIfChanged(ctx context.Context, runID string, opts LoadOptions) (Metrics, error) {
	prior, err := manifest.Load(l.ws.ManifestPath(runID))
	if err == nil {
		current, err := l.currentManifest(runID, opts)
		if err != nil {
			return Metrics{}, err
		}
		changed, reasons := manifest.Compare(current, prior)
		if !changed {
			l.emitter.Emit(events.Event{
				Level: "INFO", Stage: artifacts.PhaseEmbed, Op: "embed.skip", Status: events.StatusOK,
				RID: runID, Reason: "manifest unchanged",
			})
			return Metrics{Skipped: true}, nil
		}
		return l.runWithReasons(ctx, runID, opts, reasons)
	}
	return l.LoadRun(ctx, runID, opts)
}

func (l *Loader) runWithReasons(ctx context.Context, runID string, opts LoadOptions, reasons []string) (Metrics, error) {
	metrics, err := l.LoadRun(ctx, runID, opts)
	metrics.SkipReasons = reasons
	return metrics, err
}

// currentManifest assembles the manifest the current state would produce,
// for comparison against the prior one.
func (l *Loader) currentManifest(runID string, opts LoadOptions) (record.Manifest, error) {
	_, chunks, err := l.readChunks(runID)
	if err != nil {
		return record.Manifest{}, err
	}
	fps := l.readFingerprints(runID)
	list := make([]record.Fingerprint, 0, len(fps))
	for id, sha := range fps {
		list = append(list, record.Fingerprint{ID: id, FingerprintSHA256: sha})
	}
	return manifest.Build(manifest.BuildParams{
		RunID:           runID,
		GitCommit:       l.meta.GitCommit,
		Provider:        opts.Provider,
		Model:           opts.Model,
		Dimension:       opts.Dimension,
		Tokenizer:       l.meta.Tokenizer,
		EnricherVersion: l.meta.EnricherVersion,
		ChunkerVersion:  l.meta.ChunkerVersion,
		ChunkConfig:     l.meta.ChunkConfig,
		Fingerprints:    list,
		Chunks:          chunks,
	})
}

// embedBatch embeds one batch, degrading to single-item calls and finally
// zero vectors so one bad chunk never aborts the run.
func (l *Loader) embedBatch(ctx context.Context, texts, ids []string, opts LoadOptions) (embedded, zeroed int, err error) {
	vectors, batchErr := l.provider.EmbedBatch(ctx, texts)
	if batchErr != nil {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		vectors = make([][]float32, len(texts))
		for i, text := range texts {
			vec, itemErr := l.provider.Embed(ctx, text)
			if itemErr != nil {
				if ctx.Err() != nil {
					return 0, 0, ctx.Err()
				}
				l.emitter.Emit(events.Event{
					Level: "WARNING", Stage: artifacts.PhaseEmbed, Op: "embed.chunk",
					Status: events.StatusFail, ChunkID: ids[i], Reason: itemErr.Error(),
				})
				vec = ZeroVector(opts.Dimension)
				zeroed++
			}
			vectors[i] = vec
		}
	}

	rows := make([]store.EmbeddingRow, len(ids))
	for i := range ids {
		rows[i] = store.EmbeddingRow{ChunkID: ids[i], Vector: vectors[i]}
	}
	if err := l.st.UpsertEmbeddings(ctx, opts.Provider, opts.Model, opts.Dimension, rows); err != nil {
		return 0, 0, err
	}
	return len(rows) - zeroed, zeroed, nil
}

func (l *Loader) writeArtifacts(runID string, opts LoadOptions, metrics Metrics, fps []record.Fingerprint, chunks []record.Chunk) error {
	if _, err := l.ws.EnsurePhaseDir(runID, artifacts.PhaseEmbed); err != nil {
		return err
	}
	assurance := Assurance{
		RunID:     runID,
		Provider:  opts.Provider,
		Model:     opts.Model,
		Dimension: opts.Dimension,
		Metrics:   metrics,
	}
	if err := artifacts.WriteJSON(l.ws.EmbedAssurancePath(runID), assurance); err != nil {
		return err
	}

	m, err := manifest.Build(manifest.BuildParams{
		RunID:           runID,
		GitCommit:       l.meta.GitCommit,
		Provider:        opts.Provider,
		Model:           opts.Model,
		Dimension:       opts.Dimension,
		Tokenizer:       l.meta.Tokenizer,
		EnricherVersion: l.meta.EnricherVersion,
		ChunkerVersion:  l.meta.ChunkerVersion,
		ChunkConfig:     l.meta.ChunkConfig,
		Fingerprints:    fps,
		Chunks:          chunks,
		ChunksEmbedded:  metrics.ChunksEmbedded,
	})
	if err != nil {
		return err
	}
	return manifest.Write(l.ws.ManifestPath(runID), m)
}

// readDocs prefers enriched records and falls back to normalized ones.
func (l *Loader) readDocs(runID string) ([]record.Enriched, error) {
	var docs []record.Enriched
	enrichedPath := l.ws.EnrichedPath(runID)
	if _, err := os.Stat(enrichedPath); err == nil {
		_, err := artifacts.ReadNDJSON(enrichedPath, func(e record.Enriched) error {
			docs = append(docs, e)
			return nil
		})
		return docs, err
	}
	_, err := artifacts.ReadNDJSON(l.ws.NormalizedPath(runID), func(n record.Normalized) error {
		docs = append(docs, record.Enriched{Normalized: n})
		return nil
	})
	return docs, err
}

func (l *Loader) readChunks(runID string) (map[string][]record.Chunk, []record.Chunk, error) {
	byDoc := make(map[string][]record.Chunk)
	var all []record.Chunk
	_, err := artifacts.ReadNDJSON(l.ws.ChunksPath(runID), func(c record.Chunk) error {
		byDoc[c.DocID] = append(byDoc[c.DocID], c)
		all = append(all, c)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return byDoc, all, nil
}

// readFingerprints reads enrich fingerprints; absence just disables
// changed-only skipping.
func (l *Loader) readFingerprints(runID string) map[string]string {
	out := make(map[string]string)
	_, _ = artifacts.ReadNDJSON(l.ws.FingerprintsPath(runID), func(fp record.Fingerprint) error {
		out[fp.ID] = fp.FingerprintSHA256
		return nil
	})
	return out
}

func docRow(e record.Enriched, fingerprint string) record.Document {
	collection := e.Collection
	if collection == "" {
		collection = e.Normalized.Collection
	}
	return record.Document{
		DocID:         e.ID,
		SourceSystem:  e.SourceSystem,
		Title:         e.Title,
		URL:           e.URL,
		SpaceKey:      e.SpaceKey,
		Collection:    collection,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
		BodyRepr:      e.BodyRepr,
		ContentSHA256: e.ContentSHA256,
		Fingerprint:   fingerprint,
		Meta:          e.Meta,
	}
}
