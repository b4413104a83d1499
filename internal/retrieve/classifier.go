// Package retrieve answers natural-language queries with the top-k most
// relevant chunks, fused from dense and lexical candidates and packed into a
// character budget.
package retrieve

import (
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultClassifierCacheSize bounds the classification LRU cache.
const DefaultClassifierCacheSize = 1000

// Classification is a classifier verdict for one query.
type Classification struct {
	// Domain reports whether the query targets the documentation domain.
	Domain bool
	// Expanded is the OR-expanded lexical query. Equal to the input when no
	// expansion applied.
	Expanded string
}

// QueryClassifier detects domain queries and expands them for lexical
// search. Detection rules and synonym lists are policy, so callers depend on
// this interface rather than one rule set.
type QueryClassifier interface {
	Classify(query string) Classification
}

// n2sPatterns is the closed set of detection rules for the N2S methodology
// domain. A query matching any pattern is treated as domain-specific.
var n2sPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bn2s\b`),
	regexp.MustCompile(`(?i)\bnet[ -]new[ -]software\b`),
	regexp.MustCompile(`(?i)\bmethodolog(y|ies)\b`),
	regexp.MustCompile(`(?i)\bplaybooks?\b`),
	regexp.MustCompile(`(?i)\brunbooks?\b`),
	regexp.MustCompile(`(?i)\bsprint[ -](0|zero)\b`),
	regexp.MustCompile(`(?i)\bdiscovery[ -]phase\b`),
	regexp.MustCompile(`(?i)\bdelivery[ -]framework\b`),
}

// n2sSynonyms maps matched terms to the fixed phrase list appended to the
// lexical query.
var n2sSynonyms = map[string][]string{
	"n2s":              {"net new software", "N2S methodology"},
	"net new software": {"N2S"},
	"methodology":      {"playbook", "delivery framework"},
	"playbook":         {"methodology", "runbook"},
	"runbook":          {"playbook", "operations guide"},
	"sprint 0":         {"sprint zero", "discovery phase"},
	"sprint zero":      {"sprint 0", "discovery phase"},
	"discovery phase":  {"sprint 0"},
}

// DomainClassifier is the stock N2S rule set behind QueryClassifier.
// Verdicts are cached per normalized query.
type DomainClassifier struct {
	cache *lru.Cache[string, Classification]
}

// NewDomainClassifier creates the stock classifier.
func NewDomainClassifier() *DomainClassifier {
	cache, _ := lru.New[string, Classification](DefaultClassifierCacheSize)
	return &DomainClassifier{cache: cache}
}

// Classify implements QueryClassifier.
func (c *DomainClassifier) Classify(query string) Classification {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return Classification{Expanded: query}
	}
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	result := Classification{Expanded: query}
	for _, pattern := range n2sPatterns {
		if pattern.MatchString(query) {
			result.Domain = true
			break
		}
	}
	if result.Domain {
		result.Expanded = expandQuery(query)
	}
	c.cache.Add(key, result)
	return result
}

// expandQuery appends synonym phrases for every recognized term, joined with
// OR so both Postgres websearch syntax and bleve accept the result.
func expandQuery(query string) string {
	lower := strings.ToLower(query)
	terms := []string{query}
	seen := map[string]bool{strings.TrimSpace(lower): true}
	for term, synonyms := range n2sSynonyms {
		if !strings.Contains(lower, term) {
			continue
		}
		for _, syn := range synonyms {
			key := strings.ToLower(syn)
			if seen[key] {
				continue
			}
			seen[key] = true
			terms = append(terms, syn)
		}
	}
	if len(terms) == 1 {
		return query
	}
	// Map iteration order is not stable; sort everything after the original
	// query so expansion is deterministic.
	head, tail := terms[0], terms[1:]
	sort.Strings(tail)
	return head + " OR " + strings.Join(tail, " OR ")
}

var _ QueryClassifier = (*DomainClassifier)(nil)
