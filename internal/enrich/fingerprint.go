package enrich

import (
	"github.com/trailblazer-io/trailblazer/internal/canonical"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// fingerprintFields is the canonical JSON payload hashed into a document
// fingerprint. Only enrichment-relevant fields participate: body mutations
// that leave these unchanged do not change the fingerprint.
type fingerprintFields struct {
	EnrichmentVersion string             `json:"enrichmentVersion"`
	Collection        string             `json:"collection"`
	PathTags          []string           `json:"pathTags"`
	Readability       record.Readability `json:"readability"`
	QualityFlags      []string           `json:"qualityFlags"`
	LLMSummary        string             `json:"llmSummary,omitempty"`
	LLMKeywords       []string           `json:"llmKeywords,omitempty"`
}

// FingerprintOf computes the enrichment fingerprint of an enriched record.
// Pure: identical inputs always produce the identical hash.
func FingerprintOf(e record.Enriched) (record.Fingerprint, error) {
	sha, err := canonical.Hash(fingerprintFields{
		EnrichmentVersion: Version,
		Collection:        e.Collection,
		PathTags:          e.PathTags,
		Readability:       e.Readability,
		QualityFlags:      e.QualityFlags,
		LLMSummary:        e.LLMSummary,
		LLMKeywords:       e.LLMKeywords,
	})
	if err != nil {
		return record.Fingerprint{}, err
	}
	return record.Fingerprint{
		ID:                e.ID,
		EnrichmentVersion: Version,
		FingerprintSHA256: sha,
	}, nil
}
