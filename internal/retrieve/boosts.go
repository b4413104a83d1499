package retrieve

import (
	"regexp"
	"strings"
)

// Additive title boosts. Values are added to the fused score; a title can
// match more than one rule.
const (
	BoostMethodology = 0.20
	BoostPlaybook    = 0.15
	BoostRunbook     = 0.10
	PenaltyDated     = -0.10
)

var (
	monthPattern = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`)
	yearPattern  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// titleBoost computes the additive domain boost for a document title.
// Meeting-note style titles carrying a month name or a 4-digit year are
// penalized so evergreen documents rank above dated ones.
func titleBoost(title string) float64 {
	lower := strings.ToLower(title)
	boost := 0.0
	if strings.Contains(lower, "methodology") {
		boost += BoostMethodology
	}
	if strings.Contains(lower, "playbook") {
		boost += BoostPlaybook
	}
	if strings.Contains(lower, "runbook") {
		boost += BoostRunbook
	}
	if monthPattern.MatchString(title) || yearPattern.MatchString(title) {
		boost += PenaltyDated
	}
	return boost
}

// applyBoosts records each candidate's boost and re-sorts by the boosted
// score with the chunkId tiebreak.
func applyBoosts(candidates []fused) {
	for i := range candidates {
		candidates[i].Boost = titleBoost(candidates[i].Title)
		candidates[i].Final = candidates[i].RRFScore + candidates[i].Boost
	}
	sortFused(candidates)
}
