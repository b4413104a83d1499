package enrich

import (
	"sort"
	"strings"

	"github.com/trailblazer-io/trailblazer/internal/record"
)

// Edge types produced by the suggestion heuristics.
const (
	EdgeLinksTo = "links_to"
	EdgeRelated = "related"
)

// maxRelatedEdgesPerDoc bounds the pairwise expansion on large collections.
const maxRelatedEdgesPerDoc = 5

// SuggestEdges derives document-to-document edges heuristically. It runs even
// in mock mode: explicit links yield links_to edges, shared path tags yield
// related edges with overlap-based confidence. Output order is deterministic.
func SuggestEdges(docs []record.Enriched) []record.SuggestedEdge {
	byURL := make(map[string]string, len(docs))
	for _, d := range docs {
		if d.URL != "" {
			byURL[normalizeURL(d.URL)] = d.ID
		}
	}

	var edges []record.SuggestedEdge

	// Explicit link edges.
	for _, d := range docs {
		for _, link := range d.Links {
			if target, ok := byURL[normalizeURL(link)]; ok && target != d.ID {
				edges = append(edges, record.SuggestedEdge{
					FromID: d.ID, ToID: target, Type: EdgeLinksTo, Confidence: 0.9,
				})
			}
		}
	}

	// Tag-overlap edges.
	for i, a := range docs {
		added := 0
		for j, b := range docs {
			if i == j || added >= maxRelatedEdgesPerDoc {
				continue
			}
			conf := tagOverlap(a.PathTags, b.PathTags)
			if conf >= 0.5 && a.Collection == b.Collection {
				edges = append(edges, record.SuggestedEdge{
					FromID: a.ID, ToID: b.ID, Type: EdgeRelated, Confidence: round2(conf),
				})
				added++
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		if edges[i].ToID != edges[j].ToID {
			return edges[i].ToID < edges[j].ToID
		}
		return edges[i].Type < edges[j].Type
	})
	return edges
}

// tagOverlap is the Jaccard similarity of two tag sets.
func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(a)
	for _, t := range b {
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}
