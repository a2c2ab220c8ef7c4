package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		expected   string
	}{
		{"host and port", "203.0.113.5:54321", "203.0.113.5"},
		{"ipv6 with port", "[::1]:9090", "::1"},
		{"no port falls back to raw value", "not-a-host-port", "not-a-host-port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr}
			assert.Equal(t, tt.expected, clientKey(r))
		})
	}
}

func TestCallbackLimitersAllow(t *testing.T) {
	rl := &callbackLimiters{
		rate:     1,
		burst:    1,
		limiters: make(map[string]*limiterEntry),
	}

	assert.True(t, rl.allow("client-a"))
	assert.False(t, rl.allow("client-a"))
	// a distinct key gets its own bucket
	assert.True(t, rl.allow("client-b"))
}
