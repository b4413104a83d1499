// Package events emits the canonical NDJSON observability stream for a run.
//
// Every component reports lifecycle through an Emitter: one JSON object per
// line of <workroot>/logs/<runId>/events.ndjson, rotated by size. A "latest"
// symlink under the logs root points at the current run's directory.
package events

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle status markers.
const (
	StatusStart = "START"
	StatusOK    = "OK"
	StatusEnd   = "END"
	StatusFail  = "FAIL"
)

// DefaultMaxSegmentBytes is the rotation threshold for event logs.
const DefaultMaxSegmentBytes = 64 * 1024 * 1024

// Counts carries the monotonic progress counters of a phase.
type Counts struct {
	Docs   int `json:"docs"`
	Chunks int `json:"chunks"`
	Tokens int `json:"tokens"`
}

// Event is one line of the canonical event stream.
type Event struct {
	TS         string  `json:"ts"`
	Level      string  `json:"level"`
	Stage      string  `json:"stage"`
	RID        string  `json:"rid"`
	Op         string  `json:"op"`
	Status     string  `json:"status"`
	DurationMS *int64  `json:"duration_ms,omitempty"`
	Counts     *Counts `json:"counts,omitempty"`
	DocID      string  `json:"doc_id,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	Model      string  `json:"model,omitempty"`
	Dimension  int     `json:"dimension,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Session    string  `json:"session,omitempty"`
}

// Emitter writes canonical events for a single run. Safe for concurrent use.
// Each emitter carries a session id so events from the same process
// invocation can be correlated when several processes append to a run's
// stream over its lifetime.
type Emitter struct {
	runID   string
	session string
	writer  *RotatingWriter
	log     *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// Open creates an emitter for runID under logsRoot, refreshing the "latest"
// symlink. The returned emitter must be closed.
func Open(logsRoot, runID string) (*Emitter, error) {
	runDir := filepath.Join(logsRoot, runID)
	w, err := NewRotatingWriter(filepath.Join(runDir, "events.ndjson"), DefaultMaxSegmentBytes)
	if err != nil {
		return nil, err
	}
	refreshLatest(logsRoot, runDir)
	return newEmitter(runID, w), nil
}

func newEmitter(runID string, w *RotatingWriter) *Emitter {
	return &Emitter{
		runID:   runID,
		session: uuid.NewString(),
		writer:  w,
		log:     slog.Default(),
		enc:     json.NewEncoder(w),
		now:     time.Now,
	}
}

// Nop returns an emitter that discards all events. Useful in tests and for
// phases invoked without a run context.
func Nop() *Emitter {
	return &Emitter{runID: "", now: time.Now}
}

// refreshLatest points logsRoot/latest at the current run directory.
// Best-effort: a failed symlink never fails the phase.
func refreshLatest(logsRoot, runDir string) {
	link := filepath.Join(logsRoot, "latest")
	_ = os.Remove(link)
	_ = os.Symlink(runDir, link)
}

// Emit writes a single event. Timestamps are filled if absent.
func (e *Emitter) Emit(ev Event) {
	if ev.TS == "" {
		ev.TS = e.now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Level == "" {
		ev.Level = "INFO"
	}
	if ev.RID == "" {
		ev.RID = e.runID
	}
	if ev.Session == "" {
		ev.Session = e.session
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return
	}
	if err := e.enc.Encode(ev); err != nil {
		e.log.Warn("event emit failed", "op", ev.Op, "error", err)
	}
}

// Start emits a START event for <stage>.<verb>.
func (e *Emitter) Start(stage, op string) {
	e.Emit(Event{Stage: stage, Op: op, Status: StatusStart})
}

// Tick emits an OK progress event with current counters.
func (e *Emitter) Tick(stage, op string, counts Counts) {
	e.Emit(Event{Stage: stage, Op: op, Status: StatusOK, Counts: &counts})
}

// End emits an END event with duration and final counters.
func (e *Emitter) End(stage, op string, dur time.Duration, counts Counts) {
	ms := dur.Milliseconds()
	e.Emit(Event{Stage: stage, Op: op, Status: StatusEnd, DurationMS: &ms, Counts: &counts})
}

// Fail emits a FAIL event with a reason string. It is the final line of a
// failed phase.
func (e *Emitter) Fail(stage, op string, dur time.Duration, reason string) {
	ms := dur.Milliseconds()
	e.Emit(Event{Stage: stage, Op: op, Status: StatusFail, Level: "ERROR", DurationMS: &ms, Reason: reason})
}

// Heartbeat emits a liveness event for long-running workers.
func (e *Emitter) Heartbeat(stage string) {
	e.Emit(Event{Stage: stage, Op: stage + ".heartbeat", Status: StatusOK})
}

// Close flushes and closes the underlying segment.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc = nil
	if e.writer != nil {
		_ = e.writer.Sync()
		return e.writer.Close()
	}
	return nil
}
