package views

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/feedrelay/hub/app"
)

// TopicDetailsPage is spec.md §6's "/topic-details" diagnostic page: the
// KnownFeed/FeedRecord/KnownFeedStats rows for one topic, plus its resolved
// aliases.
func TopicDetailsPage(d app.TopicDetails) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if !d.Found {
			_, err := fmt.Fprintf(w, `<!doctype html><html><body><p>no KnownFeed for %q</p></body></html>`, d.Topic)
			return err
		}
		_, err := fmt.Fprintf(w, `<!doctype html><html><head><title>%s</title></head><body>`+
			`<h1>%s</h1><p>feed id: %s</p><p>format: %s, content-type: %s</p>`+
			`<p>subscriber count: %d</p><h2>aliases</h2><ul>%s</ul>`+
			`</body></html>`,
			d.Topic, d.Topic, d.FeedID, d.Format, d.ContentType, d.SubscriberCount, renderAliases(d.Aliases))
		return err
	})
}

func renderAliases(aliases []string) string {
	if len(aliases) == 0 {
		return "<li>none</li>"
	}
	out := ""
	for _, a := range aliases {
		out += fmt.Sprintf("<li>%s</li>", a)
	}
	return out
}

func init() {
	registerRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("GET /topic-details", routeHandler(a, topicDetailsHandler))
	})
}

func topicDetailsHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}
	details, err := a.TopicDetails(r.Context(), topic)
	if err != nil {
		log(r.Context()).Error("topic details lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := TopicDetailsPage(details).Render(r.Context(), w); err != nil {
		log(r.Context()).Error("render topic details page failed", "error", err)
	}
}
