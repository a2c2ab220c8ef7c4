package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScorerAllowsUnknownKey(t *testing.T) {
	s := New(Config{Period: time.Minute, MinRequestsPerSec: 1, MaxFailureFrac: 0.8})
	verdicts := s.Filter([]string{"https://example.com/feed"})
	assert.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Allow)
}

func TestScorerDeniesHighFailureHighTraffic(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(Config{Period: time.Minute, MinRequestsPerSec: 1, MaxFailureFrac: 0.8})
	s.now = func() time.Time { return now }

	s.Report("https://example.com/feed", 1, 0)
	now = now.Add(1 * time.Second)
	for i := 0; i < 20; i++ {
		s.Report("https://example.com/feed", 0, 1)
		now = now.Add(100 * time.Millisecond)
	}

	verdicts := s.Filter([]string{"https://example.com/feed"})
	assert.False(t, verdicts[0].Allow)
	assert.Greater(t, verdicts[0].ObservedFailureFraction, 0.8)
}

func TestScorerAllowsLowTraffic(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(Config{Period: time.Minute, MinRequestsPerSec: 100, MaxFailureFrac: 0.8})
	s.now = func() time.Time { return now }

	s.Report("https://example.com/feed", 0, 1)
	now = now.Add(time.Second)

	verdicts := s.Filter([]string{"https://example.com/feed"})
	assert.True(t, verdicts[0].Allow, "single failure with low rps should not trip the scorer")
}

func TestScorerWindowExpires(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(Config{Period: time.Minute, MinRequestsPerSec: 1, MaxFailureFrac: 0.8})
	s.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		s.Report("https://example.com/feed", 0, 1)
	}
	now = now.Add(2 * time.Minute)

	verdicts := s.Filter([]string{"https://example.com/feed"})
	assert.True(t, verdicts[0].Allow, "stale window should reset the verdict")
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{"simple host", "https://example.com/feed.xml", "example.com"},
		{"host with port", "https://example.com:8443/feed.xml", "example.com"},
		{"malformed falls back to input", "::::not-a-url", "::::not-a-url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DomainOf(tt.rawURL))
		})
	}
}
