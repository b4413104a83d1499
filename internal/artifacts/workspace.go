// Package artifacts manages the per-run directory tree and NDJSON artifact
// streaming.
//
// Layout under the workspace root:
//
//	<root>/runs/<runId>/<phase>/...   one fixed subdirectory per phase
//	<root>/logs/<runId>/events.ndjson canonical event stream (see events)
//
// Directories are created lazily per phase and are exclusive-write: once the
// phase that produced them completes, nothing writes into them again.
package artifacts

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// Pipeline phases in execution order.
const (
	PhaseIngest    = "ingest"
	PhaseNormalize = "normalize"
	PhaseEnrich    = "enrich"
	PhaseChunk     = "chunk"
	PhasePreflight = "preflight"
	PhaseEmbed     = "embed"
)

// runIDPattern is the canonical run id form: YYYY-MM-DD_HHMMSS_<4hex>.
var runIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{6}_[0-9a-f]{4}$`)

// NewRunID generates a canonical run id from the given wall-clock time and a
// random 4-hex suffix.
func NewRunID(now time.Time) string {
	var buf [2]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s_%s", now.UTC().Format("2006-01-02_150405"), hex.EncodeToString(buf[:]))
}

// ValidRunID reports whether id has the canonical run id form.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// Workspace resolves artifact paths under a single root directory.
type Workspace struct {
	Root string
}

// NewWorkspace creates a workspace rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{Root: root}
}

// RunDir returns <root>/runs/<runId>.
func (w *Workspace) RunDir(runID string) string {
	return filepath.Join(w.Root, "runs", runID)
}

// PhaseDir returns the directory of one phase of a run.
func (w *Workspace) PhaseDir(runID, phase string) string {
	return filepath.Join(w.RunDir(runID), phase)
}

// LogsDir returns <root>/logs.
func (w *Workspace) LogsDir() string {
	return filepath.Join(w.Root, "logs")
}

// EnsurePhaseDir creates the phase directory if needed.
func (w *Workspace) EnsurePhaseDir(runID, phase string) (string, error) {
	dir := w.PhaseDir(runID, phase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return dir, nil
}

// Artifact path helpers. The names are fixed by the artifact layout contract.

func (w *Workspace) IngestPath(runID, source string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseIngest), source+".ndjson")
}

func (w *Workspace) IngestSummaryPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseIngest), "summary.json")
}

func (w *Workspace) NormalizedPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseNormalize), "normalized.ndjson")
}

func (w *Workspace) EnrichedPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseEnrich), "enriched.jsonl")
}

func (w *Workspace) FingerprintsPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseEnrich), "fingerprints.jsonl")
}

func (w *Workspace) SuggestedEdgesPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseEnrich), "suggested_edges.jsonl")
}

func (w *Workspace) EnrichAssurancePath(runID, ext string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseEnrich), "assurance."+ext)
}

func (w *Workspace) ChunksPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseChunk), "chunks.ndjson")
}

func (w *Workspace) ChunkAssurancePath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseChunk), "chunk_assurance.json")
}

func (w *Workspace) PreflightPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhasePreflight), "preflight.json")
}

func (w *Workspace) SkiplistPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhasePreflight), "doc_skiplist.json")
}

func (w *Workspace) ManifestPath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseEmbed), "manifest.json")
}

func (w *Workspace) EmbedAssurancePath(runID string) string {
	return filepath.Join(w.PhaseDir(runID, PhaseEmbed), "embed_assurance.json")
}

// PhaseLock is an advisory cross-process lock on a run-phase directory. The
// claim protocol already serializes workers across hosts; this guards against
// a second local writer invoking the same phase by hand.
type PhaseLock struct {
	fl     *flock.Flock
	locked bool
}

// LockPhase attempts a non-blocking exclusive lock on the phase directory.
// Returns ErrCodePhaseLocked if another process holds it.
func (w *Workspace) LockPhase(runID, phase string) (*PhaseLock, error) {
	dir, err := w.EnsurePhaseDir(runID, phase)
	if err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(dir, ".phase.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	if !ok {
		return nil, pperrors.Newf(pperrors.ErrCodePhaseLocked,
			"phase %s of run %s is locked by another process", phase, runID)
	}
	return &PhaseLock{fl: fl, locked: true}, nil
}

// Unlock releases the lock. Safe to call twice.
func (l *PhaseLock) Unlock() {
	if l == nil || !l.locked {
		return
	}
	l.locked = false
	_ = l.fl.Unlock()
}
