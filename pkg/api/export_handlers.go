package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/items"
	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

// ExportHandlers produces the full account data dump. Export is reachable
// in every subscription state: lapsed users can always take their data.
type ExportHandlers struct {
	store         ItemStore
	subscriptions SubscriptionService
	logger        *observability.Logger
}

// NewExportHandlers creates a new export handlers instance
func NewExportHandlers(store ItemStore, subscriptions SubscriptionService, logger *observability.Logger) *ExportHandlers {
	return &ExportHandlers{store: store, subscriptions: subscriptions, logger: logger}
}

// RegisterRoutes registers the export route on the authenticated router
func (h *ExportHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/export", h.export).Methods("GET")
}

type exportDocument struct {
	ExportedAt   time.Time             `json:"exported_at"`
	Email        string                `json:"email"`
	Items        []*items.Item         `json:"items"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

// export handles GET /api/export
func (h *ExportHandlers) export(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	now := time.Now()

	list, err := h.store.ListByOwner(r.Context(), account.ID)
	if err != nil {
		h.logger.WithError(err).Error("export failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if list == nil {
		list = []*items.Item{}
	}

	doc := exportDocument{
		ExportedAt: now,
		Email:      account.Email,
		Items:      list,
	}
	sub, err := h.subscriptions.GetByAccount(r.Context(), account.ID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		h.logger.WithError(err).Error("export failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if sub != nil {
		resp := toResponse(sub, now)
		doc.Subscription = &resp
	}

	w.Header().Set("Content-Disposition", `attachment; filename="razorlib-export.json"`)
	httputil.WriteJSON(w, http.StatusOK, doc)
}
