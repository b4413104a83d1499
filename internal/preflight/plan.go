package preflight

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trailblazer-io/trailblazer/internal/artifacts"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// PlanEntry is one run in a plan file: "runId" or "runId,expectedChunks".
type PlanEntry struct {
	RunID          string
	ExpectedChunks int
}

// CostModel prices the embedding work of ready runs. Zero values disable the
// corresponding estimate.
type CostModel struct {
	// PricePer1K is the provider price per thousand tokens.
	PricePer1K float64
	// TPSPerWorker is embedding throughput in tokens per second per worker.
	TPSPerWorker float64
	// Workers is the parallel worker count.
	Workers int
}

// PlanRunResult is one run's verdict inside a plan report.
type PlanRunResult struct {
	RunID      string   `json:"runId"`
	Status     string   `json:"status"`
	Reasons    []string `json:"reasons"`
	Advisories []string `json:"advisories,omitempty"`
	Docs       int      `json:"docs"`
	Chunks     int      `json:"chunks"`
	Tokens     int      `json:"tokens"`
}

// PlanReport aggregates verdicts over a plan.
type PlanReport struct {
	Runs          []PlanRunResult `json:"runs"`
	Ready         int             `json:"ready"`
	Blocked       int             `json:"blocked"`
	TotalTokens   int             `json:"totalTokens"`
	EstimatedCost float64         `json:"estimatedCost,omitempty"`
	EstimatedSecs float64         `json:"estimatedSeconds,omitempty"`
}

// LoadPlan parses a plan file. Blank lines and #-comments are skipped.
func LoadPlan(path string) ([]PlanEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pperrors.MissingInput(path)
	}
	defer func() { _ = f.Close() }()

	var entries []PlanEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry := PlanEntry{RunID: line}
		if idx := strings.IndexByte(line, ','); idx >= 0 {
			entry.RunID = strings.TrimSpace(line[:idx])
			if n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:])); err == nil {
				entry.ExpectedChunks = n
			}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	if len(entries) == 0 {
		return nil, pperrors.New(pperrors.ErrCodeMissingInput, "plan file has no runs: "+path, nil)
	}
	return entries, nil
}

// CheckPlan validates every run in the plan and writes the aggregate
// artifacts (ready.txt, blocked.txt, report.csv, report.md, report.json)
// into outDir. Per-run failures become BLOCKED verdicts; only harness
// errors (unwritable outDir, empty plan) return an error.
func (c *Checker) CheckPlan(entries []PlanEntry, outDir string, cost CostModel) (PlanReport, error) {
	var report PlanReport
	if len(entries) == 0 {
		return report, pperrors.New(pperrors.ErrCodeMissingInput, "no runs to check", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return report, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}

	for _, entry := range entries {
		runReport, err := c.CheckRun(entry.RunID)
		result := PlanRunResult{
			RunID:      entry.RunID,
			Status:     runReport.Status,
			Reasons:    runReport.Reasons,
			Advisories: runReport.Advisories,
			Docs:       runReport.DocTotals.Total,
			Chunks:     runReport.TokenStats.Chunks,
			Tokens:     runReport.TokenStats.Total,
		}
		if err != nil {
			result.Status = StatusBlocked
			result.Reasons = append(result.Reasons, err.Error())
		}
		if entry.ExpectedChunks > 0 && result.Chunks != entry.ExpectedChunks {
			result.Advisories = append(result.Advisories, AdvisoryChunkCountDrift)
		}
		if result.Status == StatusReady {
			report.Ready++
			report.TotalTokens += result.Tokens
		} else {
			report.Blocked++
		}
		report.Runs = append(report.Runs, result)
	}

	if cost.PricePer1K > 0 {
		report.EstimatedCost = float64(report.TotalTokens) / 1000 * cost.PricePer1K
	}
	if cost.TPSPerWorker > 0 && cost.Workers > 0 {
		report.EstimatedSecs = float64(report.TotalTokens) / (cost.TPSPerWorker * float64(cost.Workers))
	}

	if err := c.writePlanArtifacts(outDir, report); err != nil {
		return report, err
	}
	return report, nil
}

func (c *Checker) writePlanArtifacts(outDir string, report PlanReport) error {
	var ready, blocked strings.Builder
	for _, run := range report.Runs {
		if run.Status == StatusReady {
			ready.WriteString(run.RunID + "\n")
		} else {
			blocked.WriteString(run.RunID + "\n")
		}
	}
	if err := writeText(filepath.Join(outDir, "ready.txt"), ready.String()); err != nil {
		return err
	}
	if err := writeText(filepath.Join(outDir, "blocked.txt"), blocked.String()); err != nil {
		return err
	}

	var csv strings.Builder
	csv.WriteString("runId,status,docs,chunks,tokens,reasons\n")
	for _, run := range report.Runs {
		fmt.Fprintf(&csv, "%s,%s,%d,%d,%d,%s\n",
			run.RunID, run.Status, run.Docs, run.Chunks, run.Tokens,
			strings.Join(run.Reasons, ";"))
	}
	if err := writeText(filepath.Join(outDir, "report.csv"), csv.String()); err != nil {
		return err
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Preflight plan report\n\nReady: %d, blocked: %d, tokens: %d\n\n",
		report.Ready, report.Blocked, report.TotalTokens)
	if report.EstimatedCost > 0 {
		fmt.Fprintf(&md, "Estimated cost: %.4f\n\n", report.EstimatedCost)
	}
	if report.EstimatedSecs > 0 {
		fmt.Fprintf(&md, "Estimated time: %.0fs\n\n", report.EstimatedSecs)
	}
	md.WriteString("| run | status | docs | chunks | tokens | reasons |\n")
	md.WriteString("|---|---|---|---|---|---|\n")
	for _, run := range report.Runs {
		fmt.Fprintf(&md, "| %s | %s | %d | %d | %d | %s |\n",
			run.RunID, run.Status, run.Docs, run.Chunks, run.Tokens,
			strings.Join(run.Reasons, " "))
	}
	if err := writeText(filepath.Join(outDir, "report.md"), md.String()); err != nil {
		return err
	}

	return artifacts.WriteJSON(filepath.Join(outDir, "report.json"), report)
}

func writeText(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return nil
}
