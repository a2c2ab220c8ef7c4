package scorer

import (
	"math/rand"
	"sync"
	"time"
)

// KeyedBy selects whether a sampler's reservoir is partitioned by full URL
// or by domain (spec.md §4.2).
type KeyedBy string

const (
	KeyedByURL    KeyedBy = "url"
	KeyedByDomain KeyedBy = "domain"
)

// ReservoirConfig configures one named sampler (spec.md §4.2: "name, period,
// capacity, keyed_by, units").
type ReservoirConfig struct {
	Name     string
	Period   time.Duration
	Capacity int
	KeyedBy  KeyedBy
	Units    string
}

// Sample is one observation buffered by a Reporter.
type Sample struct {
	Key   string
	Value float64
	At    time.Time
}

// Reporter buffers samples for later flushing into a sampler via Sample:
// accumulate, then hand off in one batch.
type Reporter struct {
	mu      sync.Mutex
	pending []Sample
}

func NewReporter() *Reporter { return &Reporter{} }

func (r *Reporter) Add(key string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, Sample{Key: key, Value: value, At: time.Now()})
}

func (r *Reporter) drain() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// reservoirState is the per-key sliding-window reservoir, using classic
// reservoir sampling bounded to Capacity entries within Period.
type reservoirState struct {
	windowStart time.Time
	seen        int64
	values      []Sample
}

// MultiSampler is a registry of independent reservoir samplers, each
// feeding diagnostic pages only — samplers never gate control decisions
// (spec.md §4.2).
type MultiSampler struct {
	mu       sync.Mutex
	samplers map[string]*namedSampler
}

type namedSampler struct {
	cfg   ReservoirConfig
	byKey map[string]*reservoirState
	rng   *rand.Rand
}

func NewMultiSampler() *MultiSampler {
	return &MultiSampler{samplers: make(map[string]*namedSampler)}
}

func (m *MultiSampler) Register(cfg ReservoirConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samplers[cfg.Name] = &namedSampler{
		cfg:   cfg,
		byKey: make(map[string]*reservoirState),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample flushes a Reporter's buffered observations into the named
// sampler's reservoirs.
func (m *MultiSampler) Sample(name string, r *Reporter) {
	samples := r.drain()
	if len(samples) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.samplers[name]
	if !ok {
		return
	}
	now := time.Now()
	for _, s := range samples {
		rs, ok := ns.byKey[s.Key]
		if !ok || now.Sub(rs.windowStart) > ns.cfg.Period {
			rs = &reservoirState{windowStart: now}
			ns.byKey[s.Key] = rs
		}
		rs.seen++
		if len(rs.values) < ns.cfg.Capacity {
			rs.values = append(rs.values, s)
		} else {
			j := ns.rng.Int63n(rs.seen)
			if j < int64(ns.cfg.Capacity) {
				rs.values[j] = s
			}
		}
	}
}

// Snapshot returns the current reservoir contents for key under the named
// sampler, for diagnostic pages.
func (m *MultiSampler) Snapshot(name, key string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.samplers[name]
	if !ok {
		return nil
	}
	rs, ok := ns.byKey[key]
	if !ok {
		return nil
	}
	out := make([]Sample, len(rs.values))
	copy(out, rs.values)
	return out
}
