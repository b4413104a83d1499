package retrieve

import (
	"fmt"
	"strings"

	"github.com/trailblazer-io/trailblazer/internal/record"
)

// minTruncatedChars is the smallest truncated fragment worth keeping; below
// this the remainder is omitted instead.
const minTruncatedChars = 80

// PackContext assembles hits into a single context string bounded by
// maxChars, limiting each document to maxChunksPerDoc chunks. It returns the
// packed string and the hits that made it in, in packing order.
//
// The result never cuts inside a fenced code block. The only case where the
// budget is exceeded is a first chunk that alone cannot be truncated safely;
// it is then included whole.
func PackContext(hits []record.Hit, maxChars, maxChunksPerDoc int) (string, []record.Hit) {
	if maxChars <= 0 || len(hits) == 0 {
		return "", nil
	}

	var b strings.Builder
	var packed []record.Hit
	perDoc := map[string]int{}
	for _, hit := range hits {
		if maxChunksPerDoc > 0 && perDoc[hit.DocID] >= maxChunksPerDoc {
			continue
		}

		block := separator(hit) + hit.TextMD + "\n\n"
		remaining := maxChars - b.Len()
		if len(block) <= remaining {
			b.WriteString(block)
			packed = append(packed, hit)
			perDoc[hit.DocID]++
			continue
		}

		if len(packed) == 0 {
			// A lone oversize chunk is emitted whole rather than cut.
			text := safeTruncate(hit.TextMD, remaining-len(separator(hit)))
			if text == "" {
				text = hit.TextMD
			}
			truncated := hit
			truncated.TextMD = text
			b.WriteString(separator(hit) + text + "\n\n")
			packed = append(packed, truncated)
			perDoc[hit.DocID]++
		}
		break
	}
	return b.String(), packed
}

func separator(hit record.Hit) string {
	return fmt.Sprintf("--- %s (%s) [score: %.4f] ---\n", hit.Title, hit.URL, hit.Score)
}

// safeTruncate cuts text to at most limit characters at a line boundary that
// is outside any fenced code block. It returns "" when no meaningful prefix
// fits.
func safeTruncate(text string, limit int) string {
	if limit >= len(text) {
		return text
	}
	if limit <= 0 {
		return ""
	}

	inFence := false
	var fenceMarker string
	safe := 0
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if inFence {
			if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
			}
		} else if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = true
			fenceMarker = trimmed[:3]
		}
		offset += len(line)
		if offset > limit {
			break
		}
		if !inFence {
			safe = offset
		}
	}
	if safe < minTruncatedChars {
		return ""
	}
	return strings.TrimRight(text[:safe], "\n")
}
