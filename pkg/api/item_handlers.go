package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/items"
	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// ItemStore is the catalog surface the handlers need
type ItemStore interface {
	Create(ctx context.Context, item *items.Item) (*items.Item, error)
	Get(ctx context.Context, accountID, itemID int64) (*items.Item, error)
	ListByOwner(ctx context.Context, accountID int64) ([]*items.Item, error)
	Rename(ctx context.Context, accountID, itemID int64, name string) error
	Delete(ctx context.Context, accountID, itemID int64) error
	AssignBlade(ctx context.Context, accountID, bladeID int64, razorID *int64) error
}

// CounterStore mutates usage counters
type CounterStore interface {
	Get(ctx context.Context, accountID, itemID int64) (*items.UsageCounter, error)
	ApplyDelta(ctx context.Context, accountID, itemID int64, delta int, expectedVersion *int64) (*items.CounterResult, error)
	SetAbsolute(ctx context.Context, accountID, itemID int64, value int, expectedVersion *int64) (*items.CounterResult, error)
}

// ItemHandlers handles catalog CRUD and usage counter updates
type ItemHandlers struct {
	store    ItemStore
	counters CounterStore
	logger   *observability.Logger
}

// NewItemHandlers creates a new item handlers instance
func NewItemHandlers(store ItemStore, counters CounterStore, logger *observability.Logger) *ItemHandlers {
	return &ItemHandlers{store: store, counters: counters, logger: logger}
}

// RegisterRoutes registers item routes on the authenticated router
func (h *ItemHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/items", h.createItem).Methods("POST")
	router.HandleFunc("/api/items", h.listItems).Methods("GET")
	router.HandleFunc("/api/items/{id}", h.getItem).Methods("GET")
	router.HandleFunc("/api/items/{id}", h.renameItem).Methods("PATCH")
	router.HandleFunc("/api/items/{id}", h.deleteItem).Methods("DELETE")
	router.HandleFunc("/api/items/{id}/usage", h.updateUsage).Methods("POST")
	router.HandleFunc("/api/blades/{id}/usage", h.updateBladeUsage).Methods("POST")
}

// createItem handles POST /api/items
func (h *ItemHandlers) createItem(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())

	var item items.Item
	if !httputil.ParseJSONOrError(w, r, &item) {
		return
	}
	if !item.Kind.Valid() {
		httputil.WriteValidationError(w, "kind must be razor, blade, or brush")
		return
	}
	if !httputil.RequireNonEmpty(w, item.Name, "name") {
		return
	}
	item.OwnerID = account.ID

	created, err := h.store.Create(r.Context(), &item)
	if err != nil {
		h.logger.WithError(err).Error("failed to create item")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// listItems handles GET /api/items
func (h *ItemHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())

	list, err := h.store.ListByOwner(r.Context(), account.ID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list items")
		httputil.WriteInternalError(w, err)
		return
	}
	if list == nil {
		list = []*items.Item{}
	}
	httputil.WriteSuccess(w, list)
}

// getItem handles GET /api/items/{id}
func (h *ItemHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	itemID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	item, err := h.store.Get(r.Context(), account.ID, itemID)
	if errors.Is(err, items.ErrNotFound) {
		httputil.WriteNotFoundError(w, "item not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, item)
}

// renameItem handles PATCH /api/items/{id}
func (h *ItemHandlers) renameItem(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	itemID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	err := h.store.Rename(r.Context(), account.ID, itemID, req.Name)
	if errors.Is(err, items.ErrNotFound) {
		httputil.WriteNotFoundError(w, "item not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// deleteItem handles DELETE /api/items/{id}
func (h *ItemHandlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	itemID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := h.store.Delete(r.Context(), account.ID, itemID)
	if errors.Is(err, items.ErrNotFound) {
		httputil.WriteNotFoundError(w, "item not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to delete item")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type usageRequest struct {
	Action          string `json:"action"`
	Value           *int   `json:"value,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	RazorID         *int64 `json:"razor_id,omitempty"`
}

type usageResponse struct {
	Success bool  `json:"success"`
	Count   int   `json:"count"`
	Version int64 `json:"version"`
}

// updateUsage handles POST /api/items/{id}/usage
func (h *ItemHandlers) updateUsage(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	itemID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req usageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteValidationError(w, msg)
		return
	}
	h.applyUsage(w, r, account.ID, itemID, req)
}

// updateBladeUsage handles POST /api/blades/{id}/usage. An optional razor_id
// records which razor the blade is loaded in; the assignment alone never
// changes the counter, only the requested action does.
func (h *ItemHandlers) updateBladeUsage(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	bladeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req usageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	// Reject the whole request before the assignment is written, so a bad
	// action never leaves a half-applied update behind
	if msg := req.validate(); msg != "" {
		httputil.WriteValidationError(w, msg)
		return
	}

	if req.RazorID != nil {
		err := h.store.AssignBlade(r.Context(), account.ID, bladeID, req.RazorID)
		if errors.Is(err, items.ErrNotFound) {
			httputil.WriteNotFoundError(w, "blade or razor not found")
			return
		}
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}
	h.applyUsage(w, r, account.ID, bladeID, req)
}

// validate checks the request shape; callers must reject a non-empty message
// before persisting anything, the assignment included
func (req usageRequest) validate() string {
	if req.Value != nil && *req.Value < 0 && req.Action != "set" {
		return "value must not be negative"
	}
	switch req.Action {
	case "increment", "decrement":
		return ""
	case "set":
		if req.Value == nil {
			return "set requires a value"
		}
		return ""
	default:
		return "action must be increment, decrement, or set"
	}
}

// applyUsage runs the counter mutation; the request is already validated
func (h *ItemHandlers) applyUsage(w http.ResponseWriter, r *http.Request, accountID, itemID int64, req usageRequest) {
	var result *items.CounterResult
	var err error

	switch req.Action {
	case "increment":
		result, err = h.counters.ApplyDelta(r.Context(), accountID, itemID, valueOr(req.Value, 1), req.ExpectedVersion)
	case "decrement":
		result, err = h.counters.ApplyDelta(r.Context(), accountID, itemID, -valueOr(req.Value, 1), req.ExpectedVersion)
	case "set":
		result, err = h.counters.SetAbsolute(r.Context(), accountID, itemID, *req.Value, req.ExpectedVersion)
	}

	switch {
	case errors.Is(err, items.ErrNotFound):
		httputil.WriteNotFoundError(w, "item not found")
	case errors.Is(err, items.ErrConflict):
		httputil.WriteConflict(w, "counter changed since last read, re-fetch and retry")
	case err != nil:
		h.logger.WithError(err).Error("failed to update counter")
		httputil.WriteServiceUnavailable(w, "counter update failed, try again")
	default:
		httputil.WriteSuccess(w, usageResponse{Success: true, Count: result.NewCount, Version: result.Version})
	}
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
