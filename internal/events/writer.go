package events

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter implements io.Writer with size-based rotation. When the
// active file would exceed maxBytes, it is renamed with the next free ordinal
// suffix (events.ndjson.1, events.ndjson.2, ...) and a new file is started.
// Old segments are never deleted here; retention is a separate tool.
type RotatingWriter struct {
	path     string
	maxBytes int64

	mu      sync.Mutex
	file    *os.File
	written int64
}

// NewRotatingWriter creates a rotating writer for path. maxBytes <= 0
// disables rotation.
func NewRotatingWriter(path string, maxBytes int64) (*RotatingWriter, error) {
	w := &RotatingWriter{path: path, maxBytes: maxBytes}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer with automatic rotation.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.written+int64(len(p)) > w.maxBytes && w.written > 0 {
		if err := w.rotate(); err != nil {
			// Keep writing to the current file if rotation fails.
			fmt.Fprintf(os.Stderr, "event log rotation failed: %v\n", err)
		}
	}

	n, err = w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Sync flushes the active file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// Close closes the active file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *RotatingWriter) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat event log: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate renames the active file to the next free ordinal segment and opens a
// fresh file. Caller holds w.mu.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	next := w.nextOrdinal()
	rotated := fmt.Sprintf("%s.%d", w.path, next)
	if err := os.Rename(w.path, rotated); err != nil {
		// Reopen the original so writes keep landing somewhere.
		_ = w.openFile()
		return fmt.Errorf("rename segment: %w", err)
	}
	return w.openFile()
}

// nextOrdinal scans existing segments and returns max+1.
func (w *RotatingWriter) nextOrdinal() int {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	max := 0
	prefix := base + "."
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if n, err := strconv.Atoi(name[len(prefix):]); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}
