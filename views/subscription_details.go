package views

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/feedrelay/hub/app"
)

// SubscriptionDetailsPage is spec.md §6's "/subscription-details" diagnostic
// page: one Subscription row's state for a (callback, topic) pair.
func SubscriptionDetailsPage(d app.SubscriptionDetails) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if !d.Found {
			_, err := fmt.Fprintf(w, `<!doctype html><html><body><p>no subscription for %q / %q</p></body></html>`, d.Callback, d.Topic)
			return err
		}
		_, err := fmt.Fprintf(w, `<!doctype html><html><head><title>subscription</title></head><body>`+
			`<p>callback: %s</p><p>topic: %s</p><p>state: %s</p>`+
			`<p>confirm failures: %d</p><p>expiration: %s</p></body></html>`,
			d.Callback, d.Topic, d.State, d.ConfirmFailures, d.ExpirationTime)
		return err
	})
}

func init() {
	registerRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("GET /subscription-details", routeHandler(a, subscriptionDetailsHandler))
	})
}

func subscriptionDetailsHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	callback := r.URL.Query().Get("callback")
	topic := r.URL.Query().Get("topic")
	if callback == "" || topic == "" {
		http.Error(w, "callback and topic are required", http.StatusBadRequest)
		return
	}
	details, err := a.SubscriptionDetails(r.Context(), callback, topic)
	if err != nil {
		log(r.Context()).Error("subscription details lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := SubscriptionDetailsPage(details).Render(r.Context(), w); err != nil {
		log(r.Context()).Error("render subscription details page failed", "error", err)
	}
}
