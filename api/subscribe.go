package api

import (
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/app"
	"github.com/feedrelay/hub/db"
)

// subscribeHandler implements spec.md §6's POST /subscribe: hub.callback,
// hub.topic, hub.verify=async|sync, hub.mode ∈ {subscribe, unsubscribe}, plus
// the optional hub.verify_token/hub.secret/hub.lease_seconds.
func init() {
	registerHubRoute(func(a *app.Application, router *http.ServeMux) {
		router.Handle("POST /subscribe", routeHandler(a, subscribeHandler))
	})
}

func subscribeHandler(a *app.Application, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "could not parse form", http.StatusBadRequest)
		return
	}

	callback := r.Form.Get("hub.callback")
	topic := r.Form.Get("hub.topic")
	mode := r.Form.Get("hub.mode")
	verify := r.Form.Get("hub.verify")
	if callback == "" || topic == "" {
		http.Error(w, "hub.callback and hub.topic are required", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" && mode != "unsubscribe" {
		http.Error(w, "hub.mode must be subscribe or unsubscribe", http.StatusBadRequest)
		return
	}
	if verify != "sync" && verify != "async" {
		http.Error(w, "hub.verify must be sync or async", http.StatusBadRequest)
		return
	}

	verifyToken := r.Form.Get("hub.verify_token")
	secret := r.Form.Get("hub.secret")
	lease := 0
	if raw := r.Form.Get("hub.lease_seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "hub.lease_seconds must be an integer", http.StatusBadRequest)
			return
		}
		lease = n
	}

	if mode == "unsubscribe" {
		subscribeUnsubscribe(a, w, r, callback, topic, verify)
		return
	}
	subscribeSubscribe(a, w, r, callback, topic, verifyToken, secret, lease, verify)
}

func subscribeSubscribe(a *app.Application, w http.ResponseWriter, r *http.Request, callback, topic, verifyToken, secret string, lease int, verify string) {
	if verify == "async" {
		if err := a.Subscriptions.RequestInsert(r.Context(), callback, topic, verifyToken, secret, lease); err != nil {
			log(r.Context()).Error("request_insert failed", "error", err)
			w.Header().Set("Retry-After", "120")
			http.Error(w, "subscribe temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	effectiveLease := a.Subscriptions.EffectiveLease(lease)
	result, err := a.Subscriptions.RunVerification(r.Context(), db.Subscription{
		Callback:     callback,
		Topic:        topic,
		VerifyToken:  verifyToken,
		LeaseSeconds: pgtype.Int4{Int32: int32(effectiveLease), Valid: true},
	}, "subscribe")
	if err != nil {
		log(r.Context()).Error("verification handshake failed", "error", err)
		w.Header().Set("Retry-After", "120")
		http.Error(w, "subscribe temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if !result.Success && !result.NotFound {
		http.Error(w, "subscriber verification failed", http.StatusConflict)
		return
	}

	if _, err := a.Subscriptions.InsertVerified(r.Context(), callback, topic, verifyToken, secret, lease); err != nil {
		log(r.Context()).Error("insert verified failed", "error", err)
		w.Header().Set("Retry-After", "120")
		http.Error(w, "subscribe temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func subscribeUnsubscribe(a *app.Application, w http.ResponseWriter, r *http.Request, callback, topic, verify string) {
	if verify == "async" {
		found, err := a.Subscriptions.RequestRemove(r.Context(), callback, topic)
		if err != nil {
			log(r.Context()).Error("request_remove failed", "error", err)
			w.Header().Set("Retry-After", "120")
			http.Error(w, "unsubscribe temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		if !found {
			w.WriteHeader(http.StatusNoContent) // unsub-of-unknown (spec.md §6)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, err := a.Subscriptions.RunVerification(r.Context(), db.Subscription{Callback: callback, Topic: topic}, "unsubscribe")
	if err != nil {
		log(r.Context()).Error("verification handshake failed", "error", err)
		w.Header().Set("Retry-After", "120")
		http.Error(w, "unsubscribe temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if !result.Success {
		http.Error(w, "subscriber verification failed", http.StatusConflict)
		return
	}
	if err := a.Subscriptions.Remove(r.Context(), callback, topic); err != nil {
		log(r.Context()).Error("remove failed", "error", err)
		w.Header().Set("Retry-After", "120")
		http.Error(w, "unsubscribe temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
