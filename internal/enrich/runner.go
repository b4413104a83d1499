package enrich

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/events"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// RunOptions configures one enrichment run.
type RunOptions struct {
	// LLMEnabled turns on the LLM overlay and suggested-edges output.
	LLMEnabled bool
	// MaxDocs caps processed documents (0 = no cap).
	MaxDocs int
	// MinQuality is the skiplist threshold forwarded into assurance.
	MinQuality float64
	// MaxBelowThresholdPct is the advisory gate fraction.
	MaxBelowThresholdPct float64
}

// Assurance is enrich/assurance.json: the quality report for one run. The
// gate is advisory: the enricher itself never blocks.
type Assurance struct {
	RunID             string         `json:"runId"`
	EnricherVersion   string         `json:"enricherVersion"`
	Docs              int            `json:"docs"`
	ParseErrors       int            `json:"parseErrors"`
	MinQuality        float64        `json:"minQuality"`
	BelowThreshold    int            `json:"belowThreshold"`
	BelowThresholdPct float64        `json:"belowThresholdPct"`
	GateExceeded      bool           `json:"gateExceeded"`
	FlagCounts        map[string]int `json:"flagCounts"`
	AvgQualityScore   float64        `json:"avgQualityScore"`
	SuggestedEdges    int            `json:"suggestedEdges,omitempty"`
}

// Stats summarizes an enrichment execution.
type Stats struct {
	Docs           int
	ParseErrors    int
	BelowThreshold int
	SuggestedEdges int
}

// Runner executes the enrich phase for one run.
type Runner struct {
	ws      *artifacts.Workspace
	emitter *events.Emitter
	overlay LLMOverlay
}

// LLMOverlay supplies the optional model-derived fields. The mock overlay is
// used whenever no real one is configured; it is deterministic.
type LLMOverlay interface {
	Apply(e *record.Enriched)
}

// MockOverlay derives a summary and keywords heuristically, standing in for
// a model in tests and offline runs.
type MockOverlay struct{}

// Apply sets a first-sentence summary and top path tags as keywords.
func (MockOverlay) Apply(e *record.Enriched) {
	stripped := StripMarkdown(e.TextMD)
	if idx := strings.IndexAny(stripped, ".!?\n"); idx > 0 {
		e.LLMSummary = strings.TrimSpace(stripped[:idx+1])
	} else if stripped != "" {
		e.LLMSummary = stripped
	}
	if len(e.PathTags) > 0 {
		n := len(e.PathTags)
		if n > 3 {
			n = 3
		}
		e.LLMKeywords = append([]string(nil), e.PathTags[:n]...)
	}
}

// NewRunner creates an enrich phase runner.
func NewRunner(ws *artifacts.Workspace, emitter *events.Emitter, overlay LLMOverlay) *Runner {
	if emitter == nil {
		emitter = events.Nop()
	}
	if overlay == nil {
		overlay = MockOverlay{}
	}
	return &Runner{ws: ws, emitter: emitter, overlay: overlay}
}

// Run enriches a run's normalized documents, writing enriched.jsonl,
// fingerprints.jsonl, optional suggested_edges.jsonl, and assurance.{json,md}.
func (r *Runner) Run(runID string, opts RunOptions) (Stats, error) {
	start := time.Now()
	r.emitter.Start(artifacts.PhaseEnrich, "enrich.run")

	fail := func(err error) (Stats, error) {
		r.emitter.Fail(artifacts.PhaseEnrich, "enrich.run", time.Since(start), err.Error())
		return Stats{}, err
	}

	if _, err := r.ws.EnsurePhaseDir(runID, artifacts.PhaseEnrich); err != nil {
		return fail(err)
	}

	enrichedOut, err := artifacts.NewNDJSONWriter(r.ws.EnrichedPath(runID))
	if err != nil {
		return fail(err)
	}
	fpOut, err := artifacts.NewNDJSONWriter(r.ws.FingerprintsPath(runID))
	if err != nil {
		_ = enrichedOut.Close()
		return fail(err)
	}

	var (
		stats      Stats
		scoreSum   float64
		flagCounts = map[string]int{}
		enriched   []record.Enriched // retained for edge suggestion
	)

	skipped, readErr := artifacts.ReadNDJSON(r.ws.NormalizedPath(runID), func(n record.Normalized) error {
		if opts.MaxDocs > 0 && stats.Docs >= opts.MaxDocs {
			return nil
		}
		e := Enrich(n)
		if opts.LLMEnabled {
			r.overlay.Apply(&e)
		}
		fp, err := FingerprintOf(e)
		if err != nil {
			return err
		}
		if err := enrichedOut.Write(e); err != nil {
			return err
		}
		if err := fpOut.Write(fp); err != nil {
			return err
		}
		stats.Docs++
		scoreSum += e.QualityScore
		if e.QualityScore < opts.MinQuality {
			stats.BelowThreshold++
		}
		for _, f := range e.QualityFlags {
			flagCounts[f]++
		}
		if opts.LLMEnabled {
			enriched = append(enriched, e)
		}
		r.emitter.Tick(artifacts.PhaseEnrich, "enrich.emit", events.Counts{Docs: stats.Docs})
		return nil
	})
	stats.ParseErrors = skipped
	if readErr != nil {
		_ = enrichedOut.Close()
		_ = fpOut.Close()
		return fail(readErr)
	}
	if err := enrichedOut.Close(); err != nil {
		return fail(err)
	}
	if err := fpOut.Close(); err != nil {
		return fail(err)
	}

	if opts.LLMEnabled {
		edges := SuggestEdges(enriched)
		edgeOut, err := artifacts.NewNDJSONWriter(r.ws.SuggestedEdgesPath(runID))
		if err != nil {
			return fail(err)
		}
		for _, edge := range edges {
			if err := edgeOut.Write(edge); err != nil {
				_ = edgeOut.Close()
				return fail(err)
			}
		}
		if err := edgeOut.Close(); err != nil {
			return fail(err)
		}
		stats.SuggestedEdges = len(edges)
	}

	assurance := r.buildAssurance(runID, opts, stats, scoreSum, flagCounts)
	if err := artifacts.WriteJSON(r.ws.EnrichAssurancePath(runID, "json"), assurance); err != nil {
		return fail(err)
	}
	if err := writeAssuranceMarkdown(r.ws.EnrichAssurancePath(runID, "md"), assurance); err != nil {
		return fail(err)
	}

	r.emitter.End(artifacts.PhaseEnrich, "enrich.run", time.Since(start), events.Counts{Docs: stats.Docs})
	return stats, nil
}

func (r *Runner) buildAssurance(runID string, opts RunOptions, stats Stats, scoreSum float64, flagCounts map[string]int) Assurance {
	a := Assurance{
		RunID:           runID,
		EnricherVersion: Version,
		Docs:            stats.Docs,
		ParseErrors:     stats.ParseErrors,
		MinQuality:      opts.MinQuality,
		BelowThreshold:  stats.BelowThreshold,
		FlagCounts:      flagCounts,
		SuggestedEdges:  stats.SuggestedEdges,
	}
	if stats.Docs > 0 {
		a.BelowThresholdPct = round2(float64(stats.BelowThreshold) / float64(stats.Docs))
		a.AvgQualityScore = round2(scoreSum / float64(stats.Docs))
	}
	a.GateExceeded = opts.MaxBelowThresholdPct > 0 && a.BelowThresholdPct > opts.MaxBelowThresholdPct
	return a
}

// writeAssuranceMarkdown renders the human-readable twin of assurance.json.
func writeAssuranceMarkdown(path string, a Assurance) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Enrichment assurance: %s\n\n", a.RunID)
	fmt.Fprintf(&b, "- Enricher version: %s\n", a.EnricherVersion)
	fmt.Fprintf(&b, "- Documents: %d (parse errors: %d)\n", a.Docs, a.ParseErrors)
	fmt.Fprintf(&b, "- Average quality score: %.2f\n", a.AvgQualityScore)
	fmt.Fprintf(&b, "- Below threshold (%.2f): %d (%.0f%%)\n", a.MinQuality, a.BelowThreshold, a.BelowThresholdPct*100)
	if a.GateExceeded {
		b.WriteString("- **Advisory**: below-threshold fraction exceeds the configured gate\n")
	}
	if len(a.FlagCounts) > 0 {
		b.WriteString("\n## Quality flags\n\n")
		keys := make([]string, 0, len(a.FlagCounts))
		for k := range a.FlagCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %d\n", k, a.FlagCounts[k])
		}
	}
	if a.SuggestedEdges > 0 {
		fmt.Fprintf(&b, "\n## Suggested edges\n\n- total: %d\n", a.SuggestedEdges)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return nil
}
