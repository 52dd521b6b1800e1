package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/ratelimit"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

// Accounts combines the surfaces the server needs from the auth service
type Accounts interface {
	AccountService
	middleware.SessionAuthenticator
}

// Deps carries everything the API server is wired with
type Deps struct {
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Accounts      Accounts
	Trials        TrialStarter
	Limiter       *ratelimit.Limiter
	LoginPolicy   ratelimit.Policy
	ResetPolicy   ratelimit.Policy
	Items         ItemStore
	Counters      CounterStore
	Images        ImageService
	Subscriptions SubscriptionService
	Gate          *subscription.Gate
	WebhookSecret string

	// TrustProxyHeaders enables X-Forwarded-For/X-Real-IP for rate limit
	// keying; set only behind a trusted reverse proxy
	TrustProxyHeaders bool
}

// Server is the public API server
type Server struct {
	router *mux.Router
}

// NewServer creates the API server and wires all routes
func NewServer(deps Deps) *Server {
	router := mux.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(deps.Logger))
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	authHandlers := NewAuthHandlers(deps.Accounts, deps.Trials, deps.Limiter,
		deps.LoginPolicy, deps.ResetPolicy, deps.TrustProxyHeaders, deps.Logger)
	subHandlers := NewSubscriptionHandlers(deps.Subscriptions, deps.Gate,
		deps.WebhookSecret, deps.Logger)

	// Unauthenticated routes: registration, login, password reset, and the
	// billing webhook (authenticated by HMAC signature instead)
	authHandlers.RegisterRoutes(router)
	subHandlers.RegisterWebhookRoutes(router)

	// Everything else requires a session. The gate runs after CSRF so a
	// lapsed subscription answers 402, not 403, to real clients.
	authed := router.PathPrefix("/").Subrouter()
	authed.Use(middleware.NewAuthenticator(deps.Accounts).Middleware)
	authed.Use(middleware.CSRF)
	authed.Use(middleware.SubscriptionGate(deps.Gate, deps.Logger))

	authHandlers.RegisterAuthedRoutes(authed)
	NewItemHandlers(deps.Items, deps.Counters, deps.Logger).RegisterRoutes(authed)
	NewImageHandlers(deps.Images, deps.Logger).RegisterRoutes(authed)
	NewExportHandlers(deps.Items, deps.Subscriptions, deps.Logger).RegisterRoutes(authed)
	subHandlers.RegisterRoutes(authed)

	return &Server{router: router}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
