package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jtbnz/razor-library-sub001/pkg/auth"
	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/ratelimit"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

// AccountService is the auth surface the handlers need
type AccountService interface {
	Register(ctx context.Context, email, password string) (*auth.Account, error)
	Login(ctx context.Context, email, password string) (*auth.Session, string, error)
	Logout(ctx context.Context, token string) error
	StartPasswordReset(ctx context.Context, email string) (string, error)
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
}

// TrialStarter opens the trial subscription for a new account
type TrialStarter interface {
	CreateTrial(ctx context.Context, accountID int64, now time.Time) (*subscription.Subscription, error)
}

// AuthHandlers handles registration, login, logout, and password resets.
// Login and password reset are attempt-limited per identity.
type AuthHandlers struct {
	accounts    AccountService
	trials      TrialStarter
	limiter     *ratelimit.Limiter
	loginPolicy ratelimit.Policy
	resetPolicy ratelimit.Policy
	trustProxy  bool
	logger      *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance. trustProxy controls
// whether forwarded-for headers feed the rate limit key; leave it off when
// the listener is directly exposed.
func NewAuthHandlers(accounts AccountService, trials TrialStarter, limiter *ratelimit.Limiter, loginPolicy, resetPolicy ratelimit.Policy, trustProxy bool, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		accounts:    accounts,
		trials:      trials,
		limiter:     limiter,
		loginPolicy: loginPolicy,
		resetPolicy: resetPolicy,
		trustProxy:  trustProxy,
		logger:      logger,
	}
}

// RegisterRoutes registers the unauthenticated auth routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/register", h.register).Methods("POST")
	router.HandleFunc("/api/login", h.login).Methods("POST")
	router.HandleFunc("/api/password-reset", h.startPasswordReset).Methods("POST")
	router.HandleFunc("/api/password-reset/complete", h.completePasswordReset).Methods("POST")
}

// RegisterAuthedRoutes registers routes that require a session
func (h *AuthHandlers) RegisterAuthedRoutes(router *mux.Router) {
	router.HandleFunc("/api/logout", h.logout).Methods("POST")
}

// register handles POST /api/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	account, err := h.accounts.Register(r.Context(), normalizeEmail(req.Email), req.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		httputil.WriteConflict(w, "email already registered")
		return
	}
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	// Every new account starts on a trial
	if _, err := h.trials.CreateTrial(r.Context(), account.ID, time.Now()); err != nil {
		h.logger.WithError(err).WithField("account_id", account.ID).
			Error("failed to start trial")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, account)
}

// login handles POST /api/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email := normalizeEmail(req.Email)
	// One counter per client/account pair, so a shared office IP cannot
	// lock out every account behind it
	identity := httputil.ClientIP(r, h.trustProxy) + "|" + email
	decision, err := h.limiter.CheckAndRecord(r.Context(), identity, h.loginPolicy)
	if err != nil {
		httputil.WriteThrottled(w, decision.RetryAfter)
		return
	}

	session, token, err := h.accounts.Login(r.Context(), email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httputil.WriteUnauthorized(w, "invalid email or password")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("login failed")
		httputil.WriteInternalError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"token":      token,
		"csrf_token": session.CSRFToken,
		"expires_at": session.ExpiresAt,
	})
}

// logout handles POST /api/logout. Always available, even with an expired
// subscription.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := h.accounts.Logout(r.Context(), token); err != nil {
			h.logger.WithError(err).Warn("logout failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.WriteNoContent(w)
}

// startPasswordReset handles POST /api/password-reset
func (h *AuthHandlers) startPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	identity := normalizeEmail(req.Email)
	decision, err := h.limiter.CheckAndRecord(r.Context(), identity, h.resetPolicy)
	if err != nil {
		httputil.WriteThrottled(w, decision.RetryAfter)
		return
	}

	token, err := h.accounts.StartPasswordReset(r.Context(), identity)
	if err != nil {
		h.logger.WithError(err).Error("password reset failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if token != "" {
		// Delivery happens out of band; never in the response
		h.logger.WithField("email", identity).Info("password reset token issued")
	}

	// Same response whether the email exists or not
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "if that email is registered, a reset link is on its way",
	})
}

// completePasswordReset handles POST /api/password-reset/complete
func (h *AuthHandlers) completePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.accounts.CompletePasswordReset(r.Context(), req.Token, req.NewPassword)
	if errors.Is(err, auth.ErrResetInvalid) {
		httputil.WriteValidationError(w, "invalid or expired reset token")
		return
	}
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, map[string]string{"message": "password updated"})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
