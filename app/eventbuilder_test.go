package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const rdfFixture = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
<channel>
<link>https://example.com/feed</link>
</channel>
<item>
<link>https://example.com/posts/1</link>
<title>First post</title>
</item>
<item>
<link>https://example.com/posts/2</link>
<title>Second post</title>
</item>
</rdf:RDF>`

func TestParseRDF(t *testing.T) {
	parsed, ok := parseRDF([]byte(rdfFixture))
	assert.True(t, ok)
	assert.Equal(t, "rdf", parsed.format)
	assert.Equal(t, "application/rdf+xml", parsed.contentType)
	assert.Len(t, parsed.entries, 2)
	assert.Equal(t, "https://example.com/posts/1", parsed.entries[0].id)
	assert.Contains(t, string(parsed.entries[0].rawXML), "<title>First post</title>")
	assert.NotContains(t, string(parsed.headerFooter), "<item>")
}

func TestParseRDFRejectsNonRDF(t *testing.T) {
	_, ok := parseRDF([]byte(`<rss><channel></channel></rss>`))
	assert.False(t, ok)
}

func TestExtractFeedID(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{
			name:   "atom id",
			body:   `<feed xmlns="http://www.w3.org/2005/Atom"><id>tag:example.com,2026:feed</id></feed>`,
			want:   "tag:example.com,2026:feed",
			wantOK: true,
		},
		{
			name:   "rss channel link",
			body:   `<rss><channel><link>https://example.com/rss</link></channel></rss>`,
			want:   "https://example.com/rss",
			wantOK: true,
		},
		{
			name:   "rdf channel link",
			body:   rdfFixture,
			want:   "https://example.com/feed",
			wantOK: true,
		},
		{
			name:   "no identity available",
			body:   `<rss><channel></channel></rss>`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFeedID([]byte(tt.body))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassifyContentType(t *testing.T) {
	tests := []struct {
		name          string
		contentType   string
		wantFormat    string
		wantAmbiguous bool
	}{
		{"atom", "application/atom+xml; charset=utf-8", "atom", false},
		{"rss", "application/rss+xml", "rss", false},
		{"rdf", "application/rdf+xml", "rdf", false},
		{"unrecognized", "text/html", "", true},
		{"multiple matches", "application/rss+xml+atom", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, ambiguous := classifyContentType(tt.contentType)
			assert.Equal(t, tt.wantFormat, format)
			assert.Equal(t, tt.wantAmbiguous, ambiguous)
		})
	}
}

func TestRecordContentTypeTalliesDisagreement(t *testing.T) {
	b := &EventBuilder{}

	b.recordContentType("application/atom+xml", "atom")
	assert.Equal(t, int64(0), b.AmbiguousContentTypeCount())

	b.recordContentType("text/html", "atom")
	assert.Equal(t, int64(1), b.AmbiguousContentTypeCount())

	b.recordContentType("application/rss+xml", "atom")
	assert.Equal(t, int64(2), b.AmbiguousContentTypeCount())
}
