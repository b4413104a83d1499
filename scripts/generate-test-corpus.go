//go:build ignore

// Generates a synthetic normalized run for pipeline benchmarking.
// Usage: go run scripts/generate-test-corpus.go -docs 500 -workroot var
//
// The output is a complete normalize/normalized.ndjson under a fresh run
// directory, so enrich, chunk, and embed can be exercised against a corpus
// of any size without a live Confluence or DITA source.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

var (
	numDocs  = flag.Int("docs", 500, "Number of documents to generate")
	workroot = flag.String("workroot", "var", "Workroot to write the run under")
	seed     = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var titleWords = []string{
	"Methodology", "Playbook", "Runbook", "Overview", "Architecture",
	"Deployment", "Onboarding", "Migration", "Checklist", "Reference",
	"Troubleshooting", "Integration", "Discovery", "Delivery", "Sprint",
}

var proseWords = []string{
	"the", "pipeline", "normalizes", "each", "document", "into", "markdown",
	"before", "enrichment", "scores", "quality", "and", "chunking", "splits",
	"on", "heading", "boundaries", "while", "embeddings", "are", "loaded",
	"into", "postgres", "for", "hybrid", "retrieval", "with", "rank", "fusion",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	ws := artifacts.NewWorkspace(*workroot)
	runID := artifacts.NewRunID(time.Now())
	if _, err := ws.EnsurePhaseDir(runID, artifacts.PhaseNormalize); err != nil {
		fatal(err)
	}

	w, err := artifacts.NewNDJSONWriter(ws.NormalizedPath(runID))
	if err != nil {
		fatal(err)
	}

	for i := 0; i < *numDocs; i++ {
		doc := makeDoc(rng, i)
		if err := w.Write(doc); err != nil {
			fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		fatal(err)
	}

	fmt.Printf("generated run %s: %d docs under %s\n", runID, *numDocs, ws.RunDir(runID))
}

func makeDoc(rng *rand.Rand, i int) record.Normalized {
	title := fmt.Sprintf("%s %s %d",
		titleWords[rng.Intn(len(titleWords))],
		titleWords[rng.Intn(len(titleWords))], i)

	body := makeBody(rng, title)
	sum := sha256.Sum256([]byte(body))
	ts := time.Date(2025, time.Month(1+rng.Intn(12)), 1+rng.Intn(28), 0, 0, 0, 0, time.UTC)

	return record.Normalized{
		ID:            fmt.Sprintf("synthetic-%06d", i),
		Title:         title,
		SpaceKey:      fmt.Sprintf("SYN%d", rng.Intn(4)),
		URL:           fmt.Sprintf("https://docs.example.com/synthetic/%d", i),
		CreatedAt:     ts.Format(time.RFC3339),
		UpdatedAt:     ts.Add(24 * time.Hour).Format(time.RFC3339),
		BodyRepr:      record.BodyStorage,
		TextMD:        body,
		Links:         []string{},
		Attachments:   []string{},
		SourceSystem:  record.SourceConfluence,
		Labels:        []string{"synthetic"},
		ContentSHA256: hex.EncodeToString(sum[:]),
	}
}

func makeBody(rng *rand.Rand, title string) string {
	sections := 2 + rng.Intn(4)
	body := "# " + title + "\n\n"
	for s := 0; s < sections; s++ {
		body += fmt.Sprintf("## Section %d\n\n", s+1)
		for p := 0; p < 1+rng.Intn(3); p++ {
			body += sentence(rng, 20+rng.Intn(40)) + "\n\n"
		}
		if rng.Intn(3) == 0 {
			body += "```bash\ntrailblazer chunk <runId>\ntrailblazer embed <runId>\n```\n\n"
		}
	}
	return body
}

func sentence(rng *rand.Rand, words int) string {
	out := ""
	for i := 0; i < words; i++ {
		if i > 0 {
			out += " "
		}
		out += proseWords[rng.Intn(len(proseWords))]
	}
	return out + "."
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
