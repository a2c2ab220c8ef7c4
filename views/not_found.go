package views

import (
	"net/http"

	"github.com/feedrelay/hub/app"
)

func init() {
	registerRoute(func(slurpee *app.Application, router *http.ServeMux) {
		router.Handle("/", routeHandler(slurpee, notFound))
	})
}

func notFound(app *app.Application, w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}
