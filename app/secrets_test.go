package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignPayload(t *testing.T) {
	sig := SignPayload("my-secret", []byte("payload body"))
	assert.True(t, len(sig) > len("sha1="))
	assert.Equal(t, "sha1=", sig[:5])

	// deterministic for the same key/payload
	assert.Equal(t, sig, SignPayload("my-secret", []byte("payload body")))
	// different payload, different signature
	assert.NotEqual(t, sig, SignPayload("my-secret", []byte("other body")))
}

func TestDeliverySecret(t *testing.T) {
	tests := []struct {
		name        string
		secret      string
		verifyToken string
		expected    string
	}{
		{"secret wins", "s3cr3t", "token", "s3cr3t"},
		{"falls back to verify token", "", "token", "token"},
		{"empty when both empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeliverySecret(tt.secret, tt.verifyToken))
		})
	}
}

func TestGenerateChallenge(t *testing.T) {
	c, err := GenerateChallenge()
	assert.NoError(t, err)
	assert.Len(t, c, 128)

	other, err := GenerateChallenge()
	assert.NoError(t, err)
	assert.NotEqual(t, c, other)
}

func TestHashAndCheckAdminSecret(t *testing.T) {
	hash, err := HashAdminSecret("correct horse battery staple")
	assert.NoError(t, err)
	assert.True(t, CheckAdminSecret(hash, "correct horse battery staple"))
	assert.False(t, CheckAdminSecret(hash, "wrong password"))
}
