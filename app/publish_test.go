package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		devMode bool
		wantErr bool
	}{
		{"plain https default port", "https://example.com/feed.xml", false, false},
		{"plain http default port", "http://example.com/feed.xml", false, false},
		{"disallowed explicit port 8443", "https://example.com:8443/feed.xml", false, true}, // 8443 is not in the whitelist
		{"allowed whitelisted port", "https://example.com:4443/feed.xml", false, false},
		{"allowed 808x port", "http://example.com:8085/feed.xml", false, false},
		{"disallowed port", "http://example.com:9999/feed.xml", false, true},
		{"disallowed port bypassed in dev mode", "http://example.com:9999/feed.xml", true, false},
		{"unsupported scheme", "ftp://example.com/feed.xml", false, true},
		{"fragment rejected", "https://example.com/feed.xml#section", false, true},
		{"missing host", "https:///feed.xml", false, true},
		{"not a url", "::::not a url", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateTopic(tt.raw, tt.devMode)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		expected string
	}{
		{"lowercase publish", "publish", "publish"},
		{"mixed case publish", "Publish", "publish"},
		{"subscribe passthrough", "subscribe", "subscribe"},
		{"unsubscribe passthrough", "unsubscribe", "unsubscribe"},
		{"unrecognized passthrough", "bogus", "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseMode(tt.mode))
		})
	}
}
