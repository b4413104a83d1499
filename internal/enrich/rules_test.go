package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trailblazer-io/trailblazer/internal/record"
)

func normalizedDoc(id, text string) record.Normalized {
	return record.Normalized{
		ID:           id,
		Title:        "Title " + id,
		SpaceKey:     "DOCS",
		URL:          "https://wiki.example.com/wiki/spaces/DOCS/pages/123/" + id,
		SourceSystem: record.SourceConfluence,
		TextMD:       text,
	}
}

func TestEnrich_Deterministic(t *testing.T) {
	n := normalizedDoc("d1", "# API Guide\n\nSome body text with a [link](https://x.example).")
	first := Enrich(n)
	second := Enrich(n)
	assert.Equal(t, first, second)
}

func TestEnrich_CollectionFallbackChain(t *testing.T) {
	n := normalizedDoc("d1", "body")
	n.Collection = "explicit"
	assert.Equal(t, "explicit", Enrich(n).Collection)

	n.Collection = ""
	assert.Equal(t, "docs", Enrich(n).Collection)

	n.SpaceKey = ""
	assert.Equal(t, string(record.SourceConfluence), Enrich(n).Collection)
}

func TestEnrich_PathTagsFromBreadcrumbsAndURL(t *testing.T) {
	n := normalizedDoc("d1", "# API Reference\n\nwords")
	n.Breadcrumbs = []string{"Platform Team", "Runbooks"}

	e := Enrich(n)
	assert.Contains(t, e.PathTags, "platform-team")
	assert.Contains(t, e.PathTags, "runbooks")
	// Heading keyword signal.
	assert.Contains(t, e.PathTags, "api")
	// Noise URL segments are dropped.
	assert.NotContains(t, e.PathTags, "wiki")
	assert.NotContains(t, e.PathTags, "123")
}

func TestEnrich_PathTagsDeduplicated(t *testing.T) {
	n := normalizedDoc("d1", "body")
	n.PathTags = []string{"runbooks"}
	n.Breadcrumbs = []string{"Runbooks"}

	e := Enrich(n)
	count := 0
	for _, tag := range e.PathTags {
		if tag == "runbooks" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestQualityFlags(t *testing.T) {
	tests := []struct {
		name string
		doc  record.Normalized
		want []string
	}{
		{
			name: "empty body",
			doc:  normalizedDoc("d", ""),
			want: []string{record.FlagEmptyBody},
		},
		{
			name: "too short",
			doc:  normalizedDoc("d", "only four words here"),
			want: []string{record.FlagTooShort},
		},
		{
			name: "image only",
			doc:  normalizedDoc("d", "![diagram](img.png)"),
			want: []string{record.FlagImageOnly},
		},
		{
			name: "too long",
			doc:  normalizedDoc("d", "# H\n"+strings.Repeat("word ", 10001)),
			want: []string{record.FlagTooLong},
		},
		{
			name: "no structure",
			doc:  normalizedDoc("d", strings.Repeat("word ", 250)),
			want: []string{record.FlagNoStructure},
		},
		{
			name: "broken links",
			doc:  normalizedDoc("d", "# H\nten words of body text with a [broken]() link inside"),
			want: []string{record.FlagBrokenLinks},
		},
		{
			name: "broken anchor link",
			doc:  normalizedDoc("d", "# H\nten words of body text with a [broken](#) link inside"),
			want: []string{record.FlagBrokenLinks},
		},
		{
			name: "clean document",
			doc:  normalizedDoc("d", "# H\nten words of ordinary body text in this clean document"),
			want: []string{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := Enrich(tc.doc)
			assert.Equal(t, tc.want, e.QualityFlags)
		})
	}
}

func TestQualityScore_MonotoneAndClamped(t *testing.T) {
	clean := Enrich(normalizedDoc("d", "# H\nten words of ordinary body text in this clean document"))
	assert.Equal(t, 1.0, clean.QualityScore)

	empty := Enrich(normalizedDoc("d", ""))
	assert.Equal(t, 0.0, empty.QualityScore)

	short := Enrich(normalizedDoc("d", "tiny body"))
	assert.Less(t, short.QualityScore, clean.QualityScore)
	assert.Greater(t, short.QualityScore, empty.QualityScore)
}

func TestStripMarkdown(t *testing.T) {
	in := "# Heading\n\nSome *bold* text with `code` and a [label](https://x) plus\n\n```go\nfmt.Println()\n```\n"
	out := StripMarkdown(in)
	assert.Contains(t, out, "Heading")
	assert.Contains(t, out, "label")
	assert.NotContains(t, out, "https://x")
	assert.NotContains(t, out, "fmt.Println")
	assert.NotContains(t, out, "`")
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "platform-team", Slugify("Platform Team"))
	assert.Equal(t, "a-b-c", Slugify("  A/B & C!  "))
	assert.Equal(t, "", Slugify("***"))
}
