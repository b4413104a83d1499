package chunk

import (
	"os"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/events"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// Assurance is chunk/chunk_assurance.json: per-run chunking statistics.
type Assurance struct {
	RunID               string          `json:"runId"`
	Docs                int             `json:"docs"`
	Chunks              int             `json:"chunks"`
	Tokens              int             `json:"tokens"`
	MinTokensPerChunk   int             `json:"minTokensPerChunk"`
	MaxTokensPerChunk   int             `json:"maxTokensPerChunk"`
	AvgTokensPerChunk   float64         `json:"avgTokensPerChunk"`
	ParseErrors         int             `json:"parseErrors"`
	Overflows           []OverflowEvent `json:"overflows,omitempty"`
	QualityDistribution map[string]int  `json:"qualityDistribution,omitempty"`
	Tokenizer           record.Tokenizer `json:"tokenizer"`
	ChunkerVersion      string          `json:"chunkerVersion"`
	UsedEnriched        bool            `json:"usedEnriched"`
}

// Stats summarizes a chunk phase execution.
type Stats struct {
	Docs        int
	Chunks      int
	Tokens      int
	ParseErrors int
	Overflows   int
}

// Runner executes the chunk phase for one run.
type Runner struct {
	ws      *artifacts.Workspace
	chunker *Chunker
	emitter *events.Emitter
}

// NewRunner creates a chunk phase runner.
func NewRunner(ws *artifacts.Workspace, opts Options, emitter *events.Emitter) *Runner {
	if emitter == nil {
		emitter = events.Nop()
	}
	return &Runner{ws: ws, chunker: New(opts), emitter: emitter}
}

// Run chunks a run's documents. It prefers enrich/enriched.jsonl and falls
// back to normalize/normalized.ndjson; a missing input is fatal, a malformed
// record is counted and skipped.
func (r *Runner) Run(runID string) (Stats, error) {
	start := time.Now()
	r.emitter.Start(artifacts.PhaseChunk, "chunk.run")

	if _, err := r.ws.EnsurePhaseDir(runID, artifacts.PhaseChunk); err != nil {
		r.emitter.Fail(artifacts.PhaseChunk, "chunk.run", time.Since(start), err.Error())
		return Stats{}, err
	}

	out, err := artifacts.NewNDJSONWriter(r.ws.ChunksPath(runID))
	if err != nil {
		r.emitter.Fail(artifacts.PhaseChunk, "chunk.run", time.Since(start), err.Error())
		return Stats{}, err
	}

	assurance := Assurance{
		RunID:               runID,
		MinTokensPerChunk:   -1,
		QualityDistribution: map[string]int{},
		Tokenizer:           WhitespaceTokenizer,
		ChunkerVersion:      Version,
	}
	var stats Stats

	emitDoc := func(id, text string, trace record.Traceability, score float64, scored bool) error {
		chunks, overflows := r.chunker.ChunkDocument(id, text, trace)
		for _, ch := range chunks {
			if err := out.Write(ch); err != nil {
				return err
			}
			stats.Chunks++
			stats.Tokens += ch.TokenCount
			if assurance.MinTokensPerChunk < 0 || ch.TokenCount < assurance.MinTokensPerChunk {
				assurance.MinTokensPerChunk = ch.TokenCount
			}
			if ch.TokenCount > assurance.MaxTokensPerChunk {
				assurance.MaxTokensPerChunk = ch.TokenCount
			}
		}
		assurance.Overflows = append(assurance.Overflows, overflows...)
		stats.Docs++
		if scored {
			assurance.QualityDistribution[qualityBucket(score)]++
		}
		r.emitter.Tick(artifacts.PhaseChunk, "chunk.emit", events.Counts{
			Docs: stats.Docs, Chunks: stats.Chunks, Tokens: stats.Tokens,
		})
		return nil
	}

	enrichedPath := r.ws.EnrichedPath(runID)
	if _, statErr := os.Stat(enrichedPath); statErr == nil {
		assurance.UsedEnriched = true
		skipped, err := artifacts.ReadNDJSON(enrichedPath, func(e record.Enriched) error {
			return emitDoc(e.ID, e.TextMD, record.Traceability{
				Title: e.Title, URL: e.URL, SourceSystem: e.SourceSystem,
			}, e.QualityScore, true)
		})
		stats.ParseErrors += skipped
		if err != nil {
			_ = out.Close()
			r.emitter.Fail(artifacts.PhaseChunk, "chunk.run", time.Since(start), err.Error())
			return stats, err
		}
	} else {
		skipped, err := artifacts.ReadNDJSON(r.ws.NormalizedPath(runID), func(n record.Normalized) error {
			return emitDoc(n.ID, n.TextMD, record.Traceability{
				Title: n.Title, URL: n.URL, SourceSystem: n.SourceSystem,
			}, 0, false)
		})
		stats.ParseErrors += skipped
		if err != nil {
			_ = out.Close()
			r.emitter.Fail(artifacts.PhaseChunk, "chunk.run", time.Since(start), err.Error())
			return stats, err
		}
	}

	if err := out.Close(); err != nil {
		r.emitter.Fail(artifacts.PhaseChunk, "chunk.run", time.Since(start), err.Error())
		return stats, err
	}

	assurance.Docs = stats.Docs
	assurance.Chunks = stats.Chunks
	assurance.Tokens = stats.Tokens
	assurance.ParseErrors = stats.ParseErrors
	if stats.Chunks > 0 {
		assurance.AvgTokensPerChunk = float64(stats.Tokens) / float64(stats.Chunks)
	}
	if assurance.MinTokensPerChunk < 0 {
		assurance.MinTokensPerChunk = 0
	}
	stats.Overflows = len(assurance.Overflows)

	if err := artifacts.WriteJSON(r.ws.ChunkAssurancePath(runID), assurance); err != nil {
		r.emitter.Fail(artifacts.PhaseChunk, "chunk.run", time.Since(start), err.Error())
		return stats, err
	}

	r.emitter.End(artifacts.PhaseChunk, "chunk.run", time.Since(start), events.Counts{
		Docs: stats.Docs, Chunks: stats.Chunks, Tokens: stats.Tokens,
	})
	return stats, nil
}

// qualityBucket buckets a quality score for the assurance distribution.
func qualityBucket(score float64) string {
	switch {
	case score >= 0.8:
		return "0.8-1.0"
	case score >= 0.6:
		return "0.6-0.8"
	case score >= 0.4:
		return "0.4-0.6"
	case score >= 0.2:
		return "0.2-0.4"
	default:
		return "0.0-0.2"
	}
}
