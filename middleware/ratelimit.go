package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/feedrelay/hub/app"
)

// PublishRateLimitMiddleware enforces spec.md §6's global 100/s cap on
// POST /publish: one shared limiter, since a publisher flood is a global
// capacity problem regardless of which client sent it.
func PublishRateLimitMiddleware(a *app.Application) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(a.Config.PublishRateLimitPerSec), int(a.Config.PublishRateLimitPerSec))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/publish" {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubscribeRateLimitMiddleware enforces spec.md §6's 10/s-per-callback cap
// on POST /subscribe, since a single misbehaving subscriber retry-hammering
// the hub shouldn't be able to starve every other subscriber's handshake.
// Keyed by the hub.callback form value; a request without one is keyed by
// its remote address.
func SubscribeRateLimitMiddleware(a *app.Application) func(http.Handler) http.Handler {
	rl := &callbackLimiters{
		rate:     rate.Limit(a.Config.SubscribeRateLimitPerSec),
		burst:    int(a.Config.SubscribeRateLimitPerSec),
		limiters: make(map[string]*limiterEntry),
	}
	go rl.evictStale()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/subscribe" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.FormValue("hub.callback")
			if key == "" {
				key = clientKey(r)
			}
			if !rl.allow(key) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

type callbackLimiters struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

func (c *callbackLimiters) allow(key string) bool {
	c.mu.Lock()
	entry, ok := c.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.rate, c.burst)}
		c.limiters[key] = entry
	}
	entry.seen = time.Now()
	c.mu.Unlock()
	return entry.limiter.Allow()
}

// evictStale drops limiters untouched for ten minutes so the map doesn't
// grow without bound over the hub's lifetime.
func (c *callbackLimiters) evictStale() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		c.mu.Lock()
		for key, entry := range c.limiters {
			if entry.seen.Before(cutoff) {
				delete(c.limiters, key)
			}
		}
		c.mu.Unlock()
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
