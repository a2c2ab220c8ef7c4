package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		n        int
		expected time.Duration
	}{
		{"zeroth failure", 30 * time.Second, 0, 30 * time.Second},
		{"first retry", 30 * time.Second, 1, 60 * time.Second},
		{"second retry", 30 * time.Second, 2, 120 * time.Second},
		{"third retry", 30 * time.Second, 3, 240 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retryDelay(tt.base, tt.n))
		})
	}
}

func TestVerifyAdminSecret(t *testing.T) {
	hash, err := HashAdminSecret("topsecret")
	assert.NoError(t, err)

	a := &Application{AdminSecretCache: NewCache[string, bool]()}
	a.Config.AdminSecret = hash

	assert.True(t, a.VerifyAdminSecret("topsecret"))
	assert.False(t, a.VerifyAdminSecret("wrong"))
	// cached verdict for a repeated check
	assert.True(t, a.VerifyAdminSecret("topsecret"))

	a.Config.AdminSecret = ""
	assert.False(t, a.VerifyAdminSecret("topsecret"))
}
