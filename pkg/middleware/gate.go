package middleware

import (
	"errors"
	"net/http"

	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

// exemptPaths stay reachable with an expired subscription: the user can
// always take their data and leave, and a lapsed account must still be able
// to cancel or reactivate (otherwise the canceled state could never be left)
var exemptPaths = map[string]bool{
	"/api/export":                  true,
	"/api/logout":                  true,
	"/api/subscription/cancel":     true,
	"/api/subscription/reactivate": true,
}

// SubscriptionGate blocks collection mutations for expired and canceled
// subscriptions. Reads and the exempt paths always pass. Must run after
// Authenticator.
func SubscriptionGate(gate *subscription.Gate, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			account := AccountFromContext(r.Context())
			if account == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if _, err := gate.Check(r.Context(), account.ID); err != nil {
				var expired *subscription.ExpiredError
				if errors.As(err, &expired) {
					httputil.WriteSubscriptionExpired(w, string(expired.State))
					return
				}
				// Storage failure: deny the write rather than guess
				logger.WithError(err).WithField("account_id", account.ID).
					Error("subscription check failed")
				httputil.WriteServiceUnavailable(w, "subscription status unavailable, try again")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
