// Package preflight certifies runs as ready to embed, or explains why they
// are blocked, and aggregates verdicts over plan files.
package preflight

import (
	"os"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/chunk"
	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/embed"
	"github.com/trailblazer-io/trailblazer/internal/manifest"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// Run verdicts.
const (
	StatusReady   = "READY"
	StatusBlocked = "BLOCKED"
)

// Blocking reasons. Quality findings never block; they surface as advisories.
const (
	ReasonMissingEnriched   = "MISSING_ENRICHED"
	ReasonEmptyEnriched     = "EMPTY_ENRICHED"
	ReasonMissingChunks     = "MISSING_CHUNKS"
	ReasonEmptyChunks       = "EMPTY_CHUNKS"
	ReasonTokenizerUnknown  = "TOKENIZER_UNKNOWN"
	ReasonConfigIncoherent  = "CONFIG_INCOHERENT"
	ReasonNoEmbeddableDocs  = "EMBEDDABLE_DOCS=0"
	AdvisoryQualityGate     = "QUALITY_GATE"
	AdvisoryChunkCountDrift = "CHUNK_COUNT_DRIFT"
)

// DocTotals summarizes document eligibility for a run.
type DocTotals struct {
	Total      int `json:"total"`
	Embeddable int `json:"embeddable"`
	Skipped    int `json:"skipped"`
}

// TokenStats summarizes per-chunk token counts.
type TokenStats struct {
	Chunks int     `json:"chunks"`
	Total  int     `json:"total"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	Avg    float64 `json:"avg"`
}

// Delta is the non-blocking manifest comparison result.
type Delta struct {
	PriorManifest bool     `json:"priorManifest"`
	Changed       bool     `json:"changed"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Report is preflight/preflight.json: the per-run verdict.
type Report struct {
	RunID               string         `json:"runId"`
	Status              string         `json:"status"`
	Reasons             []string       `json:"reasons"`
	Advisories          []string       `json:"advisories,omitempty"`
	DocTotals           DocTotals      `json:"docTotals"`
	TokenStats          TokenStats     `json:"tokenStats"`
	QualityDistribution map[string]int `json:"qualityDistribution"`
	Delta               Delta          `json:"delta"`
	Provider            string         `json:"provider"`
	Model               string         `json:"model"`
	Dimension           int            `json:"dimension"`
}

// Ready reports whether the run may proceed to embedding.
func (r Report) Ready() bool { return r.Status == StatusReady }

// SkipEntry is one line of preflight/doc_skiplist.json.
type SkipEntry struct {
	DocID        string   `json:"docId"`
	QualityScore float64  `json:"qualityScore"`
	QualityFlags []string `json:"qualityFlags"`
}

// Options configures the validator.
type Options struct {
	// MinQuality is the skiplist threshold.
	MinQuality float64
	// MaxBelowThresholdPct is the advisory quality gate fraction.
	MaxBelowThresholdPct float64
	// MinEmbedDocs is the minimum embeddable docs for readiness (default 1).
	MinEmbedDocs int
	// Embed identifies the provider configuration to validate against.
	Embed config.EmbedConfig
	// Tokenizer is the identity the chunker recorded.
	Tokenizer record.Tokenizer
}

// Checker validates runs against the workspace and configuration.
type Checker struct {
	ws   *artifacts.Workspace
	opts Options
}

// NewChecker creates a preflight validator.
func NewChecker(ws *artifacts.Workspace, opts Options) *Checker {
	if opts.MinEmbedDocs <= 0 {
		opts.MinEmbedDocs = 1
	}
	if opts.Tokenizer.Name == "" {
		opts.Tokenizer = chunk.WhitespaceTokenizer
	}
	return &Checker{ws: ws, opts: opts}
}

// CheckRun validates one run and writes preflight.json plus, when documents
// fall below the quality threshold, doc_skiplist.json. The returned error
// covers harness failures only; a BLOCKED verdict is a normal result.
func (c *Checker) CheckRun(runID string) (Report, error) {
	report := Report{
		RunID:               runID,
		QualityDistribution: map[string]int{},
		Provider:            c.opts.Embed.Provider,
		Model:               c.opts.Embed.Model,
		Dimension:           c.opts.Embed.Dimension,
		Reasons:             []string{},
	}

	skiplist := c.checkDocs(&report, runID)
	c.checkChunks(&report, runID)
	c.checkConfig(&report)
	c.checkDelta(&report, runID)

	if len(report.Reasons) == 0 {
		report.Status = StatusReady
	} else {
		report.Status = StatusBlocked
	}

	if _, err := c.ws.EnsurePhaseDir(runID, artifacts.PhasePreflight); err != nil {
		return report, err
	}
	if err := artifacts.WriteJSON(c.ws.PreflightPath(runID), report); err != nil {
		return report, err
	}
	if len(skiplist) > 0 {
		if err := artifacts.WriteJSON(c.ws.SkiplistPath(runID), skiplist); err != nil {
			return report, err
		}
	}
	return report, nil
}

// checkDocs reads enriched records, builds quality totals and the skiplist.
func (c *Checker) checkDocs(report *Report, runID string) []SkipEntry {
	path := c.ws.EnrichedPath(runID)
	if _, err := os.Stat(path); err != nil {
		report.Reasons = append(report.Reasons, ReasonMissingEnriched)
		return nil
	}

	var skiplist []SkipEntry
	below := 0
	_, err := artifacts.ReadNDJSON(path, func(e record.Enriched) error {
		report.DocTotals.Total++
		report.QualityDistribution[qualityBucket(e.QualityScore)]++
		if e.QualityScore < c.opts.MinQuality {
			below++
			skiplist = append(skiplist, SkipEntry{
				DocID:        e.ID,
				QualityScore: e.QualityScore,
				QualityFlags: e.QualityFlags,
			})
		}
		return nil
	})
	if err != nil {
		report.Reasons = append(report.Reasons, ReasonMissingEnriched)
		return nil
	}
	if report.DocTotals.Total == 0 {
		report.Reasons = append(report.Reasons, ReasonEmptyEnriched)
		return nil
	}

	report.DocTotals.Skipped = below
	report.DocTotals.Embeddable = report.DocTotals.Total - below
	if report.DocTotals.Embeddable < c.opts.MinEmbedDocs {
		report.Reasons = append(report.Reasons, ReasonNoEmbeddableDocs)
	}

	if c.opts.MaxBelowThresholdPct > 0 {
		frac := float64(below) / float64(report.DocTotals.Total)
		if frac > c.opts.MaxBelowThresholdPct {
			report.Advisories = append(report.Advisories, AdvisoryQualityGate)
		}
	}
	return skiplist
}

func (c *Checker) checkChunks(report *Report, runID string) {
	path := c.ws.ChunksPath(runID)
	if _, err := os.Stat(path); err != nil {
		report.Reasons = append(report.Reasons, ReasonMissingChunks)
		return
	}
	stats := TokenStats{Min: -1}
	_, err := artifacts.ReadNDJSON(path, func(ch record.Chunk) error {
		stats.Chunks++
		stats.Total += ch.TokenCount
		if stats.Min < 0 || ch.TokenCount < stats.Min {
			stats.Min = ch.TokenCount
		}
		if ch.TokenCount > stats.Max {
			stats.Max = ch.TokenCount
		}
		return nil
	})
	if err != nil {
		report.Reasons = append(report.Reasons, ReasonMissingChunks)
		return
	}
	if stats.Chunks == 0 {
		report.Reasons = append(report.Reasons, ReasonEmptyChunks)
		return
	}
	stats.Avg = float64(stats.Total) / float64(stats.Chunks)
	if stats.Min < 0 {
		stats.Min = 0
	}
	report.TokenStats = stats
}

// checkConfig validates tokenizer loadability and provider coherence.
func (c *Checker) checkConfig(report *Report) {
	if c.opts.Tokenizer != chunk.WhitespaceTokenizer {
		report.Reasons = append(report.Reasons, ReasonTokenizerUnknown)
	}
	switch c.opts.Embed.Provider {
	case embed.ProviderDummy, embed.ProviderRemote:
	default:
		report.Reasons = append(report.Reasons, ReasonConfigIncoherent)
		return
	}
	if c.opts.Embed.Dimension <= 0 || c.opts.Embed.Dimension > config.MaxDimension {
		report.Reasons = append(report.Reasons, ReasonConfigIncoherent)
	}
	if c.opts.Embed.Provider == embed.ProviderRemote && c.opts.Embed.Endpoint == "" {
		report.Reasons = append(report.Reasons, ReasonConfigIncoherent)
	}
}

// checkDelta runs the non-blocking manifest comparison.
func (c *Checker) checkDelta(report *Report, runID string) {
	prior, err := manifest.Load(c.ws.ManifestPath(runID))
	if err != nil {
		return
	}
	report.Delta.PriorManifest = true

	var chunks []record.Chunk
	if _, err := artifacts.ReadNDJSON(c.ws.ChunksPath(runID), func(ch record.Chunk) error {
		chunks = append(chunks, ch)
		return nil
	}); err != nil {
		return
	}
	setHash, err := manifest.ChunkSetHash(chunks)
	if err != nil {
		return
	}

	current := prior
	current.Provider = c.opts.Embed.Provider
	current.Model = c.opts.Embed.Model
	current.Dimension = c.opts.Embed.Dimension
	current.Tokenizer = c.opts.Tokenizer
	current.ChunkSetHash = setHash
	report.Delta.Changed, report.Delta.Reasons = manifest.Compare(current, prior)
}

// qualityBucket maps a score into a 0.2-wide histogram bucket.
func qualityBucket(score float64) string {
	switch {
	case score < 0.2:
		return "0.0-0.2"
	case score < 0.4:
		return "0.2-0.4"
	case score < 0.6:
		return "0.4-0.6"
	case score < 0.8:
		return "0.6-0.8"
	default:
		return "0.8-1.0"
	}
}
