// Package chunk splits Markdown documents into deterministic, token-bounded
// chunks aligned to heading and paragraph boundaries.
//
// Fenced code blocks are atomic: a chunk boundary never falls inside one,
// even when the block alone exceeds the token budget. Identical input and
// identical options always produce byte-identical output.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/trailblazer-io/trailblazer/internal/canonical"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// Version identifies the chunker implementation recorded in manifests.
const Version = "2"

// Tokenizer identity for the whitespace token approximation. Recording it in
// the manifest guarantees that the same identity yields the same counts.
var WhitespaceTokenizer = record.Tokenizer{Name: "whitespace", Version: "1"}

// Options configures the chunker.
type Options struct {
	MaxTokens      int
	MinTokens      int
	PreferHeadings bool
	OverlapPct     float64
}

// DefaultOptions returns the baseline chunker configuration.
func DefaultOptions() Options {
	return Options{MaxTokens: 800, MinTokens: 120, PreferHeadings: true, OverlapPct: 0.15}
}

// Config converts Options to the manifest representation.
func (o Options) Config() record.ChunkConfig {
	return record.ChunkConfig{
		MaxTokens:      o.MaxTokens,
		MinTokens:      o.MinTokens,
		PreferHeadings: o.PreferHeadings,
		OverlapPct:     o.OverlapPct,
	}
}

// OverflowEvent records an atomic block that alone exceeded MaxTokens and was
// emitted intact.
type OverflowEvent struct {
	DocID      string `json:"docId"`
	ChunkID    string `json:"chunkId"`
	TokenCount int    `json:"tokenCount"`
	Fenced     bool   `json:"fenced"`
}

// Chunker is a pure, deterministic Markdown chunker.
type Chunker struct {
	opts Options
}

// New creates a chunker. Non-positive MaxTokens and out-of-range OverlapPct
// fall back to defaults; a negative MinTokens falls back too, while zero
// keeps no minimum.
func New(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.MinTokens < 0 {
		opts.MinTokens = def.MinTokens
	}
	if opts.OverlapPct < 0 || opts.OverlapPct >= 1 {
		opts.OverlapPct = 0
	}
	return &Chunker{opts: opts}
}

// EstimateTokens approximates token count as whitespace-split length.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

var headingPattern = regexp.MustCompile(`^#{1,6}\s+\S`)

// block is an indivisible unit of document text.
type block struct {
	text    string
	heading bool
	fenced  bool
}

// ChunkDocument splits textMD into ordered chunks for docID. Ord values are
// contiguous from 0; chunk ids have the form "<docId>:<ord 4-digit>".
func (c *Chunker) ChunkDocument(docID, textMD string, trace record.Traceability) ([]record.Chunk, []OverflowEvent) {
	blocks := parseBlocks(normalizeText(textMD))
	if len(blocks) == 0 {
		return nil, nil
	}

	var (
		chunks    []record.Chunk
		overflows []OverflowEvent
		acc       []string
		accTokens int
		tail      string // overlap carried into the next accumulator
	)

	flush := func() {
		if len(acc) == 0 {
			return
		}
		text := strings.Join(acc, "\n\n")
		chunks = append(chunks, c.newChunk(docID, len(chunks), text, trace))
		if c.opts.OverlapPct > 0 {
			tail = overlapTail(text, c.opts.OverlapPct)
			// Cap the tail so a seeded accumulator stays near the budget.
			if budget := int(c.opts.OverlapPct * float64(c.opts.MaxTokens)); budget > 0 {
				tail = lastTokens(tail, budget)
			}
		}
		acc = acc[:0]
		accTokens = 0
	}

	seed := func() {
		if tail != "" {
			acc = append(acc, tail)
			accTokens = EstimateTokens(tail)
			tail = ""
		}
	}

	for _, b := range blocks {
		tokens := EstimateTokens(b.text)

		// Oversize atomic block: flush whatever is pending, then emit the
		// block alone. No overlap is carried across an atomic boundary.
		if tokens > c.opts.MaxTokens {
			flush()
			tail = ""
			ord := len(chunks)
			chunks = append(chunks, c.newChunk(docID, ord, b.text, trace))
			overflows = append(overflows, OverflowEvent{
				DocID:      docID,
				ChunkID:    chunks[ord].ChunkID,
				TokenCount: tokens,
				Fenced:     b.fenced,
			})
			continue
		}

		wouldOverflow := accTokens+tokens > c.opts.MaxTokens
		headingBreak := c.opts.PreferHeadings && b.heading && accTokens >= c.opts.MinTokens
		if len(acc) > 0 && (headingBreak || (wouldOverflow && accTokens >= c.opts.MinTokens)) {
			flush()
		}

		if len(acc) == 0 {
			seed()
		}
		acc = append(acc, b.text)
		accTokens += tokens
	}
	flush()

	return chunks, overflows
}

func (c *Chunker) newChunk(docID string, ord int, text string, trace record.Traceability) record.Chunk {
	return record.Chunk{
		ChunkID:      ChunkID(docID, ord),
		DocID:        docID,
		Ord:          ord,
		TextMD:       text,
		CharCount:    utf8.RuneCountInString(text),
		TokenCount:   EstimateTokens(text),
		ContentHash:  canonical.HashBytes([]byte(text)),
		Traceability: trace,
	}
}

// ChunkID formats the canonical chunk identifier.
func ChunkID(docID string, ord int) string {
	return fmt.Sprintf("%s:%04d", docID, ord)
}

// normalizeText converts CRLF to LF and collapses runs of more than two
// blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}

// parseBlocks partitions text into ordered blocks. Blocks break on blank
// lines and on Markdown headings; fenced code blocks (``` or ~~~) are single
// blocks regardless of blank lines inside them.
func parseBlocks(text string) []block {
	lines := strings.Split(text, "\n")

	var (
		blocks   []block
		cur      []string
		fence    string // active fence marker, "" when outside
		curFence bool
		curHead  bool
	)

	endBlock := func() {
		if len(cur) == 0 {
			return
		}
		joined := strings.TrimRight(strings.Join(cur, "\n"), "\n")
		if strings.TrimSpace(joined) != "" {
			blocks = append(blocks, block{text: joined, heading: curHead, fenced: curFence})
		}
		cur = nil
		curFence = false
		curHead = false
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if fence != "" {
			cur = append(cur, line)
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
				endBlock()
			}
			continue
		}

		if marker := fenceMarker(trimmed); marker != "" {
			endBlock()
			fence = marker
			curFence = true
			cur = append(cur, line)
			continue
		}

		if trimmed == "" {
			endBlock()
			continue
		}

		if headingPattern.MatchString(trimmed) {
			endBlock()
			curHead = true
			cur = append(cur, line)
			// A heading is a block of its own; following text starts fresh.
			endBlock()
			continue
		}

		cur = append(cur, line)
	}
	// An unterminated fence still ends the document as one atomic block.
	endBlock()

	return blocks
}

// fenceMarker returns the fence prefix if line opens a fenced code block.
func fenceMarker(trimmed string) string {
	if strings.HasPrefix(trimmed, "```") {
		return "```"
	}
	if strings.HasPrefix(trimmed, "~~~") {
		return "~~~"
	}
	return ""
}

// lastTokens returns at most n trailing whitespace-split tokens of text.
func lastTokens(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[len(fields)-n:], " ")
}

// overlapTail returns the last pct of text, extended left to the nearest word
// boundary where possible.
func overlapTail(text string, pct float64) string {
	n := int(float64(len(text)) * pct)
	if n <= 0 {
		return ""
	}
	if n >= len(text) {
		return text
	}
	start := len(text) - n
	// Walk back to a word boundary so the tail does not begin mid-word.
	if idx := strings.LastIndexAny(text[:start], " \n\t"); idx >= 0 {
		start = idx + 1
	} else {
		start = 0
	}
	return strings.TrimSpace(text[start:])
}
