// Package scorer implements the per-URL/per-domain rolling-window failure
// scorer (spec.md §4.1) that gates fetches and deliveries when recent
// traffic to an endpoint is mostly failing.
//
// A mutex-guarded map with small per-key structs; no external time-series
// library, since the window is short and the per-key state is tiny.
package scorer

import (
	"sync"
	"time"
)

// Config parameterizes one named scorer instance (spec.md §4.1: "A named
// scorer is configured with (period_seconds, min_requests_per_sec,
// max_failure_fraction, prefix)").
type Config struct {
	Prefix            string
	Period            time.Duration
	MinRequestsPerSec float64
	MaxFailureFrac    float64
}

// bucket holds rolling counts for one URL/domain within the configured
// period, evicted lazily once stale.
type bucket struct {
	windowStart time.Time
	successes   int64
	failures    int64
}

func (b *bucket) total() int64 { return b.successes + b.failures }

// Scorer gates outbound traffic to URLs based on recent observed failure
// rate. Safe for concurrent use.
type Scorer struct {
	cfg Config
	mu  sync.Mutex
	buckets map[string]*bucket
	now func() time.Time
}

func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, buckets: make(map[string]*bucket), now: time.Now}
}

func (s *Scorer) bucketFor(key string, now time.Time) *bucket {
	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) > s.cfg.Period {
		b = &bucket{windowStart: now}
		s.buckets[key] = b
	}
	return b
}

// Verdict is the per-key outcome of Filter.
type Verdict struct {
	Key                    string
	Allow                  bool
	ObservedFailureFraction float64
}

// Filter returns, for each key (URL or domain), whether traffic should
// proceed and the observed failure fraction over the rolling period. An
// endpoint is denied when both requests/second >= MinRequestsPerSec and
// failures/requests >= MaxFailureFrac within the period (spec.md §4.1).
func (s *Scorer) Filter(keys []string) []Verdict {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Verdict, 0, len(keys))
	for _, k := range keys {
		b, ok := s.buckets[k]
		if !ok || now.Sub(b.windowStart) > s.cfg.Period {
			out = append(out, Verdict{Key: k, Allow: true})
			continue
		}
		elapsed := now.Sub(b.windowStart).Seconds()
		if elapsed <= 0 {
			elapsed = 1
		}
		rps := float64(b.total()) / elapsed
		failFrac := 0.0
		if b.total() > 0 {
			failFrac = float64(b.failures) / float64(b.total())
		}
		denied := rps >= s.cfg.MinRequestsPerSec && failFrac >= s.cfg.MaxFailureFrac
		out = append(out, Verdict{Key: k, Allow: !denied, ObservedFailureFraction: failFrac})
	}
	return out
}

// Report increments the rolling counters for key. Called only for
// endpoints that were not denied by Filter (spec.md §4.6 step 1, §8
// "Scorer tripped ... no failure reported to scorer").
func (s *Scorer) Report(key string, successes, failures int64) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucketFor(key, now)
	b.successes += successes
	b.failures += failures
}

// DomainOf extracts the host name of a URL (without port) for domain-keyed
// scoring. Caller is expected to pass a well-formed absolute URL; malformed
// input yields the input unchanged so the scorer degrades to per-string
// keying rather than erroring.
func DomainOf(rawURL string) string {
	u, err := parseHost(rawURL)
	if err != nil {
		return rawURL
	}
	return u
}
