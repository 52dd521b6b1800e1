package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtbnz/razor-library-sub001/pkg/auth"
	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

type stubSubscriptions struct {
	sub       *subscription.Subscription
	activated []time.Time
	canceled  int
	reactived int
	err       error
}

func (s *stubSubscriptions) GetByAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sub, nil
}

func (s *stubSubscriptions) Activate(ctx context.Context, accountID int64, expiresAt time.Time) (*subscription.Subscription, error) {
	s.activated = append(s.activated, expiresAt)
	s.sub.ExpiresAt = &expiresAt
	return s.sub, nil
}

func (s *stubSubscriptions) Cancel(ctx context.Context, accountID int64, now time.Time) (*subscription.Subscription, error) {
	s.canceled++
	s.sub.CanceledAt = &now
	return s.sub, nil
}

func (s *stubSubscriptions) Reactivate(ctx context.Context, accountID int64, now time.Time) (*subscription.Subscription, error) {
	s.reactived++
	s.sub.CanceledAt = nil
	return s.sub, nil
}

const testWebhookSecret = "whsec_test"

func newSubRouter(subs *stubSubscriptions) *mux.Router {
	gate := subscription.NewGate(&nilGateStore{}, 0, nil)
	handlers := NewSubscriptionHandlers(subs, gate, testWebhookSecret, apiTestLogger())

	router := mux.NewRouter()
	handlers.RegisterWebhookRoutes(router)

	authed := router.PathPrefix("/").Subrouter()
	authed.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithSession(r.Context(), &auth.Account{ID: 42}, &auth.Session{AccountID: 42})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	handlers.RegisterRoutes(authed)
	return router
}

type nilGateStore struct{}

func (nilGateStore) GetByAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error) {
	return nil, subscription.ErrNotFound
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestGetSubscription(t *testing.T) {
	subs := &stubSubscriptions{sub: &subscription.Subscription{
		AccountID: 42, TrialStartedAt: time.Now().AddDate(0, 0, -2),
	}}
	router := newSubRouter(subs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/subscription", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp subscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, subscription.StateTrial, resp.State)
}

func TestCancelAndReactivate(t *testing.T) {
	subs := &stubSubscriptions{sub: &subscription.Subscription{
		AccountID: 42, TrialStartedAt: time.Now(),
	}}
	router := newSubRouter(subs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/subscription/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, subs.canceled)

	var resp subscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, subscription.StateCanceled, resp.State)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/subscription/reactivate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, subs.reactived)
}

func TestWebhookPaymentSucceeded(t *testing.T) {
	subs := &stubSubscriptions{sub: &subscription.Subscription{
		AccountID: 42, TrialStartedAt: time.Now().AddDate(0, 0, -20),
	}}
	router := newSubRouter(subs)

	expiresAt := time.Now().AddDate(0, 1, 0).UTC()
	body, err := json.Marshal(webhookEvent{AccountID: 42, Event: "payment_succeeded", ExpiresAt: &expiresAt})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/billing/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, subs.activated, 1)
	assert.True(t, subs.activated[0].Equal(expiresAt))
}

func TestWebhookBadSignature(t *testing.T) {
	subs := &stubSubscriptions{sub: &subscription.Subscription{AccountID: 42}}
	router := newSubRouter(subs)

	body, err := json.Marshal(webhookEvent{AccountID: 42, Event: "subscription_canceled"})
	require.NoError(t, err)

	t.Run("wrong signature", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/billing/webhook", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", "deadbeef")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/billing/webhook", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Zero(t, subs.canceled)
}

func TestWebhookUnknownEvent(t *testing.T) {
	subs := &stubSubscriptions{sub: &subscription.Subscription{AccountID: 42}}
	router := newSubRouter(subs)

	body, err := json.Marshal(webhookEvent{AccountID: 42, Event: "invoice_finalized"})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/billing/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
