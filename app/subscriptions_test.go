package app

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClampLease(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		def       int
		max       int
		expected  int
	}{
		{"omitted falls back to default", 0, 432000, 864000, 432000},
		{"negative falls back to default", -1, 432000, 864000, 432000},
		{"within range kept as is", 100000, 432000, 864000, 100000},
		{"above max capped", 2000000, 432000, 864000, 864000},
		{"exactly max kept", 864000, 432000, 864000, 864000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, clampLease(tt.requested, tt.def, tt.max))
		})
	}
}

func TestEffectiveLease(t *testing.T) {
	m := &SubscriptionManager{
		cfg: subscriptionManagerConfig{
			DefaultLeaseSeconds: 432000,
			MaxLeaseSeconds:     864000,
		},
	}

	assert.Equal(t, 432000, m.EffectiveLease(0))
	assert.Equal(t, 864000, m.EffectiveLease(10_000_000))
	assert.Equal(t, 500000, m.EffectiveLease(500000))
}

func TestParseVerificationPayload(t *testing.T) {
	id := uuid.New()

	gotID, mode, err := parseVerificationPayload([]byte(id.String() + "|subscribe"))
	assert.NoError(t, err)
	assert.Equal(t, "subscribe", mode)
	assert.Equal(t, id, uuid.UUID(gotID.Bytes))
	assert.True(t, gotID.Valid)

	_, _, err = parseVerificationPayload([]byte("not-a-valid-payload"))
	assert.Error(t, err)

	_, _, err = parseVerificationPayload([]byte("not-a-uuid|subscribe"))
	assert.Error(t, err)
}
