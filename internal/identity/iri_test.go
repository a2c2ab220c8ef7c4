package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIRI(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"ascii url unchanged", "https://example.com/feed.xml", "https://example.com/feed.xml"},
		{"ascii query unchanged", "https://example.com/feed?x=1", "https://example.com/feed?x=1"},
		{"non-ascii path percent-encoded", "https://example.com/café", "https://example.com/caf%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIRI(tt.raw)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeIRIIsIdempotent(t *testing.T) {
	once, err := NormalizeIRI("https://example.com/café?q=über")
	assert.NoError(t, err)

	twice, err := NormalizeIRI(once)
	assert.NoError(t, err)

	assert.Equal(t, once, twice)
}
