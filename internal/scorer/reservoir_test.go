package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReporterAndSamplerRoundTrip(t *testing.T) {
	m := NewMultiSampler()
	m.Register(ReservoirConfig{Name: "fetch_latency", Period: time.Minute, Capacity: 10, KeyedBy: KeyedByURL, Units: "ms"})

	r := NewReporter()
	r.Add("https://example.com/feed", 12.5)
	r.Add("https://example.com/feed", 34.0)

	m.Sample("fetch_latency", r)

	samples := m.Snapshot("fetch_latency", "https://example.com/feed")
	assert.Len(t, samples, 2)
	assert.Equal(t, 12.5, samples[0].Value)
	assert.Equal(t, 34.0, samples[1].Value)
}

func TestReporterDrainIsOneShot(t *testing.T) {
	r := NewReporter()
	r.Add("k", 1)

	first := r.drain()
	assert.Len(t, first, 1)

	second := r.drain()
	assert.Len(t, second, 0)
}

func TestSnapshotUnknownSamplerOrKey(t *testing.T) {
	m := NewMultiSampler()
	assert.Nil(t, m.Snapshot("nonexistent", "k"))

	m.Register(ReservoirConfig{Name: "deliver_latency", Period: time.Minute, Capacity: 5, KeyedBy: KeyedByDomain, Units: "ms"})
	assert.Nil(t, m.Snapshot("deliver_latency", "unseen-key"))
}

func TestReservoirRespectsCapacity(t *testing.T) {
	m := NewMultiSampler()
	m.Register(ReservoirConfig{Name: "fetch_latency", Period: time.Minute, Capacity: 3, KeyedBy: KeyedByURL, Units: "ms"})

	r := NewReporter()
	for i := 0; i < 50; i++ {
		r.Add("https://example.com/feed", float64(i))
	}
	m.Sample("fetch_latency", r)

	samples := m.Snapshot("fetch_latency", "https://example.com/feed")
	assert.Len(t, samples, 3)
}
