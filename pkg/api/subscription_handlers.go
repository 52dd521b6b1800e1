package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

// SubscriptionService is the lifecycle surface the handlers need
type SubscriptionService interface {
	GetByAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error)
	Activate(ctx context.Context, accountID int64, expiresAt time.Time) (*subscription.Subscription, error)
	Cancel(ctx context.Context, accountID int64, now time.Time) (*subscription.Subscription, error)
	Reactivate(ctx context.Context, accountID int64, now time.Time) (*subscription.Subscription, error)
}

// SubscriptionHandlers handles subscription state and the billing webhook
type SubscriptionHandlers struct {
	service       SubscriptionService
	gate          *subscription.Gate
	webhookSecret string
	logger        *observability.Logger
}

// NewSubscriptionHandlers creates a new subscription handlers instance
func NewSubscriptionHandlers(service SubscriptionService, gate *subscription.Gate, webhookSecret string, logger *observability.Logger) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		service:       service,
		gate:          gate,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// RegisterRoutes registers subscription routes on the authenticated router
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/subscription", h.get).Methods("GET")
	router.HandleFunc("/api/subscription/cancel", h.cancel).Methods("POST")
	router.HandleFunc("/api/subscription/reactivate", h.reactivate).Methods("POST")
}

// RegisterWebhookRoutes registers the unauthenticated billing webhook
func (h *SubscriptionHandlers) RegisterWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/api/billing/webhook", h.webhook).Methods("POST")
}

type subscriptionResponse struct {
	State       subscription.State `json:"state"`
	TrialEndsAt time.Time          `json:"trial_ends_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	CanceledAt  *time.Time         `json:"canceled_at,omitempty"`
}

func toResponse(sub *subscription.Subscription, now time.Time) subscriptionResponse {
	return subscriptionResponse{
		State:       subscription.Evaluate(sub, now),
		TrialEndsAt: sub.TrialEndsAt(),
		ExpiresAt:   sub.ExpiresAt,
		CanceledAt:  sub.CanceledAt,
	}
}

// get handles GET /api/subscription. The state is always derived from the
// clock at request time, never served from the cached column.
func (h *SubscriptionHandlers) get(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())

	sub, err := h.service.GetByAccount(r.Context(), account.ID)
	if errors.Is(err, subscription.ErrNotFound) {
		httputil.WriteNotFoundError(w, "no subscription")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, toResponse(sub, time.Now()))
}

// cancel handles POST /api/subscription/cancel. Cancellation is always
// permitted, whatever the current state.
func (h *SubscriptionHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())

	sub, err := h.service.Cancel(r.Context(), account.ID, time.Now())
	if errors.Is(err, subscription.ErrNotFound) {
		httputil.WriteNotFoundError(w, "no subscription")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	h.gate.Invalidate(account.ID)
	httputil.WriteSuccess(w, toResponse(sub, time.Now()))
}

// reactivate handles POST /api/subscription/reactivate
func (h *SubscriptionHandlers) reactivate(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())

	sub, err := h.service.Reactivate(r.Context(), account.ID, time.Now())
	if errors.Is(err, subscription.ErrNotFound) {
		httputil.WriteNotFoundError(w, "no subscription")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	h.gate.Invalidate(account.ID)
	httputil.WriteSuccess(w, toResponse(sub, time.Now()))
}

type webhookEvent struct {
	AccountID int64      `json:"account_id"`
	Event     string     `json:"event"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// webhook handles POST /api/billing/webhook. The payment provider is the
// only writer of expires_at; events are authenticated by HMAC signature.
func (h *SubscriptionHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.WriteValidationError(w, "failed to read body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Webhook-Signature")) {
		httputil.WriteUnauthorized(w, "invalid webhook signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.WriteValidationError(w, "invalid payload")
		return
	}

	switch event.Event {
	case "payment_succeeded":
		if event.ExpiresAt == nil {
			httputil.WriteValidationError(w, "payment_succeeded requires expires_at")
			return
		}
		if _, err := h.service.Activate(r.Context(), event.AccountID, *event.ExpiresAt); err != nil {
			h.logger.WithError(err).WithField("account_id", event.AccountID).
				Error("failed to apply payment event")
			httputil.WriteInternalError(w, err)
			return
		}
	case "subscription_canceled":
		if _, err := h.service.Cancel(r.Context(), event.AccountID, time.Now()); err != nil {
			h.logger.WithError(err).WithField("account_id", event.AccountID).
				Error("failed to apply cancel event")
			httputil.WriteInternalError(w, err)
			return
		}
	default:
		httputil.WriteValidationError(w, "unknown event type")
		return
	}

	h.gate.Invalidate(event.AccountID)
	httputil.WriteSuccess(w, map[string]string{"status": "applied"})
}

func (h *SubscriptionHandlers) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
