package artifacts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// maxLineBytes bounds a single NDJSON line. Confluence pages can be large
// after Markdown conversion, but a 32 MiB line is a corrupt artifact.
const maxLineBytes = 32 * 1024 * 1024

// ReadNDJSON streams path line by line, unmarshaling each into T and calling
// fn. Malformed lines are counted and skipped, never aborting the file; the
// skip count is returned so callers can report it in assurance. A missing
// file returns ErrCodeMissingInput.
func ReadNDJSON[T any](path string, fn func(T) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, pperrors.MissingInput(path)
		}
		return 0, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			skipped++
			continue
		}
		if err := fn(v); err != nil {
			return skipped, err
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return skipped, nil
}

// CountLines returns the number of non-empty lines in path, or 0 with
// ErrCodeMissingInput if the file does not exist.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, pperrors.MissingInput(path)
		}
		return 0, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return n, nil
}

// NDJSONWriter writes records as one compact JSON object per line through a
// buffered writer.
type NDJSONWriter struct {
	f    *os.File
	bw   *bufio.Writer
	enc  *json.Encoder
	path string
	n    int
}

// NewNDJSONWriter truncates or creates path for writing.
func NewNDJSONWriter(path string) (*NDJSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	bw := bufio.NewWriterSize(f, 256*1024)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &NDJSONWriter{f: f, bw: bw, enc: enc, path: path}, nil
}

// Write appends one record line.
func (w *NDJSONWriter) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeIO, fmt.Errorf("write %s: %w", w.path, err))
	}
	w.n++
	return nil
}

// Count returns the number of records written so far.
func (w *NDJSONWriter) Count() int { return w.n }

// Close flushes and closes the artifact.
func (w *NDJSONWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	if err := w.f.Close(); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON to path, for summary and assurance
// artifacts meant to be read by humans.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return pperrors.Wrap(pperrors.ErrCodeInternal, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	return nil
}

// ReadJSON reads an indented or compact JSON artifact into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pperrors.MissingInput(path)
		}
		return pperrors.Wrap(pperrors.ErrCodeIO, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return pperrors.Wrap(pperrors.ErrCodeParse, err)
	}
	return nil
}
