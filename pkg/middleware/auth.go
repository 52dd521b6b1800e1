package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/jtbnz/razor-library-sub001/pkg/auth"
	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// SessionCookie is the cookie name browsers carry the bearer token in
const SessionCookie = "razorlib_session"

type contextKey string

const (
	accountContextKey contextKey = "account"
	sessionContextKey contextKey = "session"
)

// WithSession returns a context carrying an authenticated account and
// session, exactly as the Authenticator middleware sets them
func WithSession(ctx context.Context, account *auth.Account, session *auth.Session) context.Context {
	ctx = context.WithValue(ctx, accountContextKey, account)
	ctx = context.WithValue(ctx, sessionContextKey, session)
	if account != nil {
		ctx = observability.WithAccountID(ctx, account.ID)
	}
	return ctx
}

// AccountFromContext returns the authenticated account, or nil
func AccountFromContext(ctx context.Context) *auth.Account {
	account, _ := ctx.Value(accountContextKey).(*auth.Account)
	return account
}

// SessionFromContext returns the authenticated session, or nil
func SessionFromContext(ctx context.Context) *auth.Session {
	session, _ := ctx.Value(sessionContextKey).(*auth.Session)
	return session
}

// SessionAuthenticator resolves a bearer token to its account and session
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Account, *auth.Session, error)
}

// Authenticator resolves the bearer token (Authorization header or session
// cookie) and rejects unauthenticated requests
type Authenticator struct {
	service SessionAuthenticator
}

// NewAuthenticator creates the auth middleware
func NewAuthenticator(service SessionAuthenticator) *Authenticator {
	return &Authenticator{service: service}
}

// Middleware requires a valid session and puts account and session in the
// request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		account, session, err := a.service.Authenticate(r.Context(), token)
		if err != nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), account, session)))
	})
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// CSRF verifies the X-CSRF-Token header against the session for mutating
// methods. Safe methods pass through. Must run after Authenticator.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		session := SessionFromContext(r.Context())
		if session == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		header := r.Header.Get("X-CSRF-Token")
		if subtle.ConstantTimeCompare([]byte(header), []byte(session.CSRFToken)) != 1 {
			httputil.WriteErrorMessage(w, http.StatusForbidden, "invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
