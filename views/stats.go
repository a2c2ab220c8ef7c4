package views

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/feedrelay/hub/app"
)

// StatsPage is spec.md §6's "/stats" diagnostic page (explicitly out of
// scope for full depth): fetch/deliver latency reservoir samples for a
// single URL or domain key, plus the configured scorer thresholds. Written
// directly against templ.Component rather than a .templ source file, since
// no .templ sources ship with this module — a-h/templ is still exercised as
// the rendering contract every view in this package uses.
func StatsPage(cfg app.StatsSnapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<!doctype html><html><head><title>hub stats</title></head><body>`+
			`<h1>Scorer</h1><ul><li>fetch window: %s, min req/s: %.2f, max failure: %.2f</li>`+
			`<li>deliver window: %s, min req/s: %.2f, max failure: %.2f</li></ul>`+
			`<h1>Fetch latency (ms) for %q</h1><ul>%s</ul>`+
			`<h1>Deliver latency (ms) for %q</h1><ul>%s</ul>`+
			`<h1>Feed parsing</h1><ul><li>ambiguous content-type inferences: %d</li></ul>`+
			`</body></html>`,
			cfg.ScorerPeriod, cfg.ScorerMinRequestsSec, cfg.ScorerMaxFailureFrac,
			cfg.ScorerPeriod, cfg.ScorerMinRequestsSec, cfg.ScorerMaxFailureFrac,
			cfg.Key, renderSamples(cfg.FetchLatency),
			cfg.Key, renderSamples(cfg.DeliverLatency),
			cfg.AmbiguousContentTypeCount)
		return err
	})
}

func renderSamples(samples []app.LatencySample) string {
	if len(samples) == 0 {
		return "<li>no samples in window</li>"
	}
	out := ""
	for _, s := range samples {
		out += fmt.Sprintf("<li>%.1fms at %s</li>", s.ValueMs, s.At.Format(http.TimeFormat))
	}
	return out
}

func init() {
	registerRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("GET /stats", routeHandler(a, statsHandler))
	})
}

func statsHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		key = r.URL.Query().Get("url")
	}
	snapshot := a.Stats(key)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := StatsPage(snapshot).Render(r.Context(), w); err != nil {
		log(r.Context()).Error("render stats page failed", "error", err)
	}
}
