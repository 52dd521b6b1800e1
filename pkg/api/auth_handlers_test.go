package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtbnz/razor-library-sub001/pkg/auth"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/ratelimit"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

type stubAccounts struct {
	account  *auth.Account
	session  *auth.Session
	token    string
	loginErr error
	logins   []string
	resets   []string
}

func (s *stubAccounts) Register(ctx context.Context, email, password string) (*auth.Account, error) {
	return &auth.Account{ID: 1, Email: email}, nil
}

func (s *stubAccounts) Login(ctx context.Context, email, password string) (*auth.Session, string, error) {
	s.logins = append(s.logins, email)
	if s.loginErr != nil {
		return nil, "", s.loginErr
	}
	return s.session, s.token, nil
}

func (s *stubAccounts) Logout(ctx context.Context, token string) error { return nil }

func (s *stubAccounts) StartPasswordReset(ctx context.Context, email string) (string, error) {
	s.resets = append(s.resets, email)
	return "rzl_resettoken", nil
}

func (s *stubAccounts) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if token != "rzl_resettoken" {
		return auth.ErrResetInvalid
	}
	return nil
}

type stubTrials struct {
	started []int64
}

func (s *stubTrials) CreateTrial(ctx context.Context, accountID int64, now time.Time) (*subscription.Subscription, error) {
	s.started = append(s.started, accountID)
	return &subscription.Subscription{AccountID: accountID, TrialStartedAt: now}, nil
}

func apiTestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newAuthRouter(accounts *stubAccounts, trials *stubTrials) *mux.Router {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), nil)
	handlers := NewAuthHandlers(accounts, trials, limiter,
		ratelimit.DefaultLoginPolicy(), ratelimit.DefaultPasswordResetPolicy(), true, apiTestLogger())
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegister(t *testing.T) {
	accounts := &stubAccounts{}
	trials := &stubTrials{}
	router := newAuthRouter(accounts, trials)

	rec := postJSON(t, router, "/api/register", map[string]string{
		"email": "Shaver@Example.com", "password": "hunter2hunter2",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	// A trial starts with the account
	assert.Equal(t, []int64{1}, trials.started)
}

func TestLoginSuccess(t *testing.T) {
	accounts := &stubAccounts{
		session: &auth.Session{ID: 1, AccountID: 42, CSRFToken: "csrf-abc", ExpiresAt: time.Now().Add(time.Hour)},
		token:   "rzl_sessiontoken",
	}
	router := newAuthRouter(accounts, &stubTrials{})

	rec := postJSON(t, router, "/api/login", map[string]string{
		"email": "Shaver@Example.com", "password": "hunter2hunter2",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"shaver@example.com"}, accounts.logins)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rzl_sessiontoken", resp["token"])
	assert.Equal(t, "csrf-abc", resp["csrf_token"])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "razorlib_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginBadCredentials(t *testing.T) {
	accounts := &stubAccounts{loginErr: auth.ErrInvalidCredentials}
	router := newAuthRouter(accounts, &stubTrials{})

	rec := postJSON(t, router, "/api/login", map[string]string{
		"email": "shaver@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid email or password")
}

func TestLoginThrottled(t *testing.T) {
	accounts := &stubAccounts{loginErr: auth.ErrInvalidCredentials}
	router := newAuthRouter(accounts, &stubTrials{})

	body := map[string]string{"email": "shaver@example.com", "password": "wrong"}
	for i := 0; i < 5; i++ {
		rec := postJSON(t, router, "/api/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Sixth attempt inside the window: throttled before credentials are
	// even checked
	rec := postJSON(t, router, "/api/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, accounts.logins, 5)

	// The throttle body is generic: no hint whether the account exists
	assert.NotContains(t, rec.Body.String(), "account")
	assert.NotContains(t, rec.Body.String(), "email")
}

func TestPasswordResetAlways202(t *testing.T) {
	accounts := &stubAccounts{}
	router := newAuthRouter(accounts, &stubTrials{})

	rec := postJSON(t, router, "/api/password-reset", map[string]string{"email": "shaver@example.com"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	// The reset token never appears in the response
	assert.NotContains(t, rec.Body.String(), "rzl_resettoken")
}

func TestPasswordResetThrottled(t *testing.T) {
	accounts := &stubAccounts{}
	router := newAuthRouter(accounts, &stubTrials{})

	body := map[string]string{"email": "shaver@example.com"}
	for i := 0; i < 3; i++ {
		rec := postJSON(t, router, "/api/password-reset", body)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := postJSON(t, router, "/api/password-reset", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, accounts.resets, 3)
}

func TestCompletePasswordReset(t *testing.T) {
	router := newAuthRouter(&stubAccounts{}, &stubTrials{})

	rec := postJSON(t, router, "/api/password-reset/complete", map[string]string{
		"token": "rzl_resettoken", "new_password": "new-password-123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/api/password-reset/complete", map[string]string{
		"token": "rzl_bogus", "new_password": "new-password-123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
