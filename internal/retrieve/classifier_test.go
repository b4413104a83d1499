package retrieve

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainClassifier_DetectsDomainQueries(t *testing.T) {
	c := NewDomainClassifier()

	domain := []string{
		"how does the N2S methodology work",
		"net new software discovery",
		"incident runbook for database",
		"what happens in sprint 0",
	}
	for _, query := range domain {
		assert.True(t, c.Classify(query).Domain, query)
	}

	general := []string{
		"kubernetes deployment rollout",
		"how to configure logging",
	}
	for _, query := range general {
		result := c.Classify(query)
		assert.False(t, result.Domain, query)
		assert.Equal(t, query, result.Expanded, "no expansion outside the domain")
	}
}

func TestDomainClassifier_ExpandsWithSynonyms(t *testing.T) {
	c := NewDomainClassifier()

	result := c.Classify("n2s onboarding steps")
	assert.True(t, result.Domain)
	assert.True(t, strings.HasPrefix(result.Expanded, "n2s onboarding steps OR "))
	assert.Contains(t, result.Expanded, "net new software")

	// Stable across calls, including the cached path.
	again := c.Classify("n2s onboarding steps")
	assert.Equal(t, result, again)
	cached := c.Classify("N2S Onboarding Steps")
	assert.True(t, cached.Domain)
}

func TestDomainClassifier_EmptyQuery(t *testing.T) {
	c := NewDomainClassifier()
	result := c.Classify("   ")
	assert.False(t, result.Domain)
}
