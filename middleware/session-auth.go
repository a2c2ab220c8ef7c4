package middleware

import (
	"net/http"
	"strings"

	"github.com/feedrelay/hub/app"
)

// AdminAuthMiddleware gates spec.md §6's "/work/*" internal worker endpoints
// and the diagnostic pages so only the task queue, cron, an admin, or a dev
// deployment may call them. Uses HTTP Basic Auth checked against the
// bcrypt-hashed AdminSecret (app.CheckAdminSecret) since this hub has no user
// accounts to hold a session. In dev mode the gate is skipped outright.
func AdminAuthMiddleware(a *app.Application) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if !strings.HasPrefix(path, "/work/") && path != "/stats" && path != "/topic-details" && path != "/subscription-details" {
				next.ServeHTTP(w, r)
				return
			}
			if a.Config.DevMode {
				next.ServeHTTP(w, r)
				return
			}

			_, plain, ok := r.BasicAuth()
			if !ok || !a.VerifyAdminSecret(plain) {
				w.Header().Set("WWW-Authenticate", `Basic realm="feedrelay-hub admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
