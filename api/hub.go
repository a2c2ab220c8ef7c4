package api

import (
	"net/http"

	"github.com/feedrelay/hub/app"
)

// hubRoutes are spec.md §6's root-level endpoints (/, /publish, /subscribe,
// /work/*): unlike AddApis's routes they are NOT mounted under /api, so they
// get their own registration list and mount function.
var hubRoutes []routeRegistrationFunc

func registerHubRoute(r routeRegistrationFunc) {
	hubRoutes = append(hubRoutes, r)
}

// AddHubRoutes mounts spec.md §6's publisher/subscriber-facing endpoints
// directly on router, unprefixed, alongside AddApis's /api/ mount and
// views.AddViews's diagnostic pages.
func AddHubRoutes(a *app.Application, router *http.ServeMux) {
	for _, r := range hubRoutes {
		r(a, router)
	}
}

// multiplex implements spec.md §6's "POST / dispatches to publish or
// subscribe based on hub.mode".
func init() {
	registerHubRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("POST /{$}", routeHandler(a, multiplexHandler))
	})
}

func multiplexHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "could not parse form", http.StatusBadRequest)
		return
	}
	mode := app.ParseMode(r.Form.Get("hub.mode"))
	switch mode {
	case "publish":
		publishHandler(a, w, r)
	case "subscribe", "unsubscribe":
		subscribeHandler(a, w, r)
	default:
		http.Error(w, "unrecognized hub.mode", http.StatusBadRequest)
	}
}
