// Package enrich derives deterministic rule-based metadata for normalized
// documents: collection, path tags, readability, media/link densities,
// quality flags and score, plus a fingerprint over the enrichment-relevant
// fields.
//
// Enrichment is a pure function of its input and Version: the same
// normalized record always yields the same enriched record and fingerprint.
package enrich

import (
	"regexp"
	"strings"

	"github.com/trailblazer-io/trailblazer/internal/record"
)

// Version is the enricher version recorded in fingerprints and manifests.
// Bump it whenever any rule below changes observable output.
const Version = "2"

// Word-count thresholds for quality flags.
const (
	shortWordLimit     = 10
	longWordLimit      = 10000
	structureWordLimit = 200
)

var (
	mdHeadingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	mdImagePattern   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkPattern    = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
	brokenLinkPattern = regexp.MustCompile(`\[[^\]]*\]\((?:#)?\)`)
	mdCodeFencePattern = regexp.MustCompile("(?s)(```.*?```|~~~.*?~~~)")
	mdInlineCodePattern = regexp.MustCompile("`[^`]*`")
	nonSlugPattern   = regexp.MustCompile(`[^a-z0-9]+`)
)

// contentSignalTags maps top-level heading keywords to tags.
var contentSignalTags = []struct {
	keyword string
	tag     string
}{
	{"api", "api"},
	{"install", "installation"},
	{"configur", "configuration"},
}

// Enrich computes the deterministic rule-based overlay for one normalized
// record. The LLM overlay, when enabled, is applied separately by the runner.
func Enrich(n record.Normalized) record.Enriched {
	e := record.Enriched{Normalized: n}

	e.Collection = deriveCollection(n)
	e.PathTags = derivePathTags(n)

	stripped := StripMarkdown(n.TextMD)
	words := strings.Fields(stripped)
	headings := mdHeadingPattern.FindAllString(n.TextMD, -1)
	paragraphs := countParagraphs(stripped)

	e.Readability = readability(stripped, words, headings, n.TextMD)
	e.MediaDensity = per1000(len(n.TextMD), countImages(n.TextMD)+len(n.Attachments))
	e.LinkDensity = per1000(len(n.TextMD), countLinks(n.TextMD)+len(n.Links))
	e.QualityFlags = qualityFlags(n.TextMD, words, headings, paragraphs)
	e.QualityScore = qualityScore(e.QualityFlags)

	return e
}

// deriveCollection picks the collection: explicit value, else lowercased
// space key, else the source system.
func deriveCollection(n record.Normalized) string {
	if n.Collection != "" {
		return n.Collection
	}
	if n.SpaceKey != "" {
		return strings.ToLower(n.SpaceKey)
	}
	return string(n.SourceSystem)
}

// derivePathTags builds ordered, deduplicated tags from breadcrumbs, URL
// structure, and content signals. Order is fixed so fingerprints are stable.
func derivePathTags(n record.Normalized) []string {
	seen := make(map[string]bool)
	tags := make([]string, 0, 8)
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, tag := range n.PathTags {
		add(tag)
	}
	for _, crumb := range n.Breadcrumbs {
		add(Slugify(crumb))
	}
	for _, seg := range urlSegments(n.URL) {
		add(Slugify(seg))
	}

	// Content-signal tags from top-level headings.
	headingText := strings.ToLower(strings.Join(topHeadings(n.TextMD), " "))
	for _, sig := range contentSignalTags {
		if strings.Contains(headingText, sig.keyword) {
			add(sig.tag)
		}
	}
	return tags
}

// topHeadings returns the text of h1/h2 headings.
func topHeadings(textMD string) []string {
	var out []string
	for _, m := range mdHeadingPattern.FindAllStringSubmatch(textMD, -1) {
		full := m[0]
		level := 0
		for level < len(full) && full[level] == '#' {
			level++
		}
		if level <= 2 {
			out = append(out, m[1])
		}
	}
	return out
}

// urlSegments extracts meaningful path segments of a document URL.
func urlSegments(url string) []string {
	idx := strings.Index(url, "://")
	if idx >= 0 {
		url = url[idx+3:]
	}
	parts := strings.Split(url, "/")
	if len(parts) <= 1 {
		return nil
	}
	var segs []string
	// Skip host and the final segment (the page itself).
	for _, p := range parts[1 : len(parts)-1] {
		p = strings.TrimSpace(p)
		if p == "" || isNoiseSegment(p) {
			continue
		}
		segs = append(segs, p)
	}
	return segs
}

// isNoiseSegment filters structural URL parts that carry no topic signal.
func isNoiseSegment(seg string) bool {
	switch strings.ToLower(seg) {
	case "wiki", "spaces", "pages", "display", "viewpage.action", "x":
		return true
	}
	// Pure numeric ids.
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Slugify lowercases and collapses non-alphanumerics to single hyphens.
func Slugify(s string) string {
	s = nonSlugPattern.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// StripMarkdown removes structural Markdown for text statistics: code
// fences, inline code, images, link targets, heading markers, emphasis.
func StripMarkdown(textMD string) string {
	s := mdCodeFencePattern.ReplaceAllString(textMD, " ")
	s = mdInlineCodePattern.ReplaceAllString(s, " ")
	s = mdImagePattern.ReplaceAllString(s, " ")
	s = mdLinkPattern.ReplaceAllStringFunc(s, func(link string) string {
		end := strings.Index(link, "]")
		if end <= 1 {
			return " "
		}
		return link[1:end]
	})
	s = mdHeadingPattern.ReplaceAllString(s, "$1")
	s = strings.NewReplacer("*", "", "_", "", ">", "", "|", " ").Replace(s)
	return strings.TrimSpace(s)
}

func countParagraphs(stripped string) int {
	n := 0
	for _, p := range strings.Split(stripped, "\n\n") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

func countImages(textMD string) int {
	return len(mdImagePattern.FindAllString(textMD, -1))
}

func countLinks(textMD string) int {
	// Images match the link pattern too; exclude them.
	return len(mdLinkPattern.FindAllString(textMD, -1)) - countImages(textMD)
}

// readability computes zero-guarded text statistics.
func readability(stripped string, words, headings []string, textMD string) record.Readability {
	var r record.Readability
	if len(words) > 0 {
		chars := 0
		for _, w := range words {
			chars += len(w)
		}
		r.CharsPerWord = round2(float64(chars) / float64(len(words)))
	}
	if paras := countParagraphs(stripped); paras > 0 {
		r.WordsPerParagraph = round2(float64(len(words)) / float64(paras))
	}
	lines := 0
	for _, l := range strings.Split(textMD, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	if lines > 0 {
		r.HeadingRatio = round2(float64(len(headings)) / float64(lines))
	}
	return r
}

func per1000(chars, count int) float64 {
	if chars == 0 {
		return 0
	}
	return round2(float64(count) * 1000 / float64(chars))
}

// round2 pins float formatting in canonical JSON to two decimals.
func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// qualityFlags applies the rule set.
func qualityFlags(textMD string, words, headings []string, paragraphs int) []string {
	var flags []string
	images := countImages(textMD)

	switch {
	case len(words) == 0 && images == 0:
		flags = append(flags, record.FlagEmptyBody)
	case len(words) < shortWordLimit && images > 0:
		flags = append(flags, record.FlagImageOnly)
	case len(words) < shortWordLimit:
		flags = append(flags, record.FlagTooShort)
	case len(words) > longWordLimit:
		flags = append(flags, record.FlagTooLong)
	}

	if len(words) > structureWordLimit && len(headings) == 0 {
		flags = append(flags, record.FlagNoStructure)
	}
	if brokenLinkPattern.MatchString(textMD) {
		flags = append(flags, record.FlagBrokenLinks)
	}
	if flags == nil {
		flags = []string{}
	}
	return flags
}

// qualityScore maps flags to [0,1], monotone in flag severity.
func qualityScore(flags []string) float64 {
	score := 1.0
	for _, f := range flags {
		switch f {
		case record.FlagEmptyBody:
			score -= 1.0
		case record.FlagTooShort:
			score -= 0.5
		case record.FlagImageOnly:
			score -= 0.4
		case record.FlagNoStructure:
			score -= 0.2
		case record.FlagTooLong:
			score -= 0.1
		case record.FlagBrokenLinks:
			score -= 0.1
		}
	}
	if score < 0 {
		return 0
	}
	return round2(score)
}
