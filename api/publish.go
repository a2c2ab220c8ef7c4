package api

import (
	"errors"
	"net/http"

	"github.com/feedrelay/hub/app"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// publishHandler implements spec.md §6's POST /publish: hub.mode=publish,
// repeatable hub.url. 204 on success, 400 on a bad URL, 503 (with
// Retry-After) on a transient backend failure.
func init() {
	registerHubRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("POST /publish", routeHandler(a, publishHandler))
	})
}

func publishHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "could not parse form", http.StatusBadRequest)
		return
	}
	urls := r.Form["hub.url"]
	if len(urls) == 0 {
		http.Error(w, "hub.url is required", http.StatusBadRequest)
		return
	}

	_, err := a.Publisher.Publish(r.Context(), urls, "publish", taskqueue.QueueFeedPull)
	if err != nil {
		var invalid *app.ErrInvalidTopic
		if errors.As(err, &invalid) {
			http.Error(w, invalid.Error(), http.StatusBadRequest)
			return
		}
		log(r.Context()).Error("publish failed", "error", err)
		w.Header().Set("Retry-After", "120")
		http.Error(w, "publish temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
