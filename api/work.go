package api

import (
	"fmt"
	"net/http"

	"github.com/feedrelay/hub/app"
)

// workRoutes implement spec.md §6's "/work/*": internal worker endpoints
// gated by middleware.AdminAuthMiddleware so only the task queue, cron, an
// admin, or a dev deployment may call them. The hub's actual task dispatch
// runs on an internal poll loop (internal/taskqueue.Dispatcher.Start), not
// over HTTP, so these endpoints exist for manual ops: nudging the polling
// sweep and forcing a subscription expiry scan on demand rather than
// waiting for its schedule.
func init() {
	registerHubRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("POST /work/polling/tick", routeHandler(a, workPollingTickHandler))
		router.Handle("POST /work/subscriptions/sweep-expired", routeHandler(a, workSweepExpiredHandler))
		router.Handle("POST /work/delivery/sweep-due", routeHandler(a, workSweepDueDeliveriesHandler))
	})
}

// workPollingTickHandler runs one PollingSweep.Tick synchronously, for an
// operator who doesn't want to wait out PollingBootstrapPeriod.
func workPollingTickHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	if err := a.Polling.Tick(r.Context(), nil); err != nil {
		log(r.Context()).Error("manual polling tick failed", "error", err)
		http.Error(w, "tick failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// workSweepExpiredHandler re-enqueues a verification task for every
// subscription nearing expiry, the renewal half of spec.md §4.4's lease
// model that has no dedicated background loop of its own.
func workSweepExpiredHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	n, err := a.Subscriptions.SweepExpiringSubscriptions(r.Context())
	if err != nil {
		log(r.Context()).Error("sweep expiring subscriptions failed", "error", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "renewed %d subscription(s)", n)
}

// workSweepDueDeliveriesHandler re-enqueues a delivery task for every
// EventToDeliver whose next_attempt has come due, for an operator who
// suspects the dispatcher's own poll loop missed one (db.ClaimDueEvents).
func workSweepDueDeliveriesHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	n, err := a.Deliverer.SweepDueEvents(r.Context())
	if err != nil {
		log(r.Context()).Error("sweep due deliveries failed", "error", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "re-enqueued %d due event(s)", n)
}
