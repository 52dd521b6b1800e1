package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jtbnz/razor-library-sub001/pkg/httputil"
	"github.com/jtbnz/razor-library-sub001/pkg/images"
	"github.com/jtbnz/razor-library-sub001/pkg/middleware"
	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// ImageService is the upload pipeline surface the handlers need
type ImageService interface {
	Upload(ctx context.Context, accountID, itemID int64, r io.Reader) (*images.Asset, error)
	ListByItem(ctx context.Context, accountID, itemID int64) ([]*images.Asset, error)
	Open(ctx context.Context, accountID, assetID int64) (io.ReadCloser, *images.Asset, error)
	Delete(ctx context.Context, accountID, assetID int64) error
}

// ImageHandlers handles item photo uploads and retrieval
type ImageHandlers struct {
	service ImageService
	logger  *observability.Logger
}

// NewImageHandlers creates a new image handlers instance
func NewImageHandlers(service ImageService, logger *observability.Logger) *ImageHandlers {
	return &ImageHandlers{service: service, logger: logger}
}

// RegisterRoutes registers image routes on the authenticated router
func (h *ImageHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/items/{id}/images", h.upload).Methods("POST")
	router.HandleFunc("/api/items/{id}/images", h.list).Methods("GET")
	router.HandleFunc("/api/images/{imageID}", h.download).Methods("GET")
	router.HandleFunc("/api/items/{id}/images/{imageID}", h.remove).Methods("DELETE")
}

// upload handles POST /api/items/{id}/images (multipart, field "image")
func (h *ImageHandlers) upload(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	itemID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	// One byte over the cap still parses; the validator draws the line
	r.Body = http.MaxBytesReader(w, r.Body, images.MaxUploadBytes+(1<<20))
	file, _, err := r.FormFile("image")
	if err != nil {
		httputil.WriteValidationError(w, "multipart field \"image\" is required")
		return
	}
	defer file.Close()

	asset, err := h.service.Upload(r.Context(), account.ID, itemID, file)
	if errors.Is(err, images.ErrNotFound) {
		httputil.WriteNotFoundError(w, "item not found")
		return
	}
	if images.IsValidationError(err) {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("image upload failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, asset)
}

// list handles GET /api/items/{id}/images
func (h *ImageHandlers) list(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	itemID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	assets, err := h.service.ListByItem(r.Context(), account.ID, itemID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if assets == nil {
		assets = []*images.Asset{}
	}
	httputil.WriteSuccess(w, assets)
}

// download handles GET /api/images/{imageID}
func (h *ImageHandlers) download(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	vars := mux.Vars(r)
	assetID, err := strconv.ParseInt(vars["imageID"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "invalid image id")
		return
	}

	body, asset, err := h.service.Open(r.Context(), account.ID, assetID)
	if errors.Is(err, images.ErrNotFound) {
		httputil.WriteNotFoundError(w, "image not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", asset.ContentType)
	if asset.SizeBytes > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", asset.SizeBytes))
	}
	io.Copy(w, body)
}

// remove handles DELETE /api/items/{id}/images/{imageID}
func (h *ImageHandlers) remove(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromContext(r.Context())
	vars := mux.Vars(r)
	assetID, err := strconv.ParseInt(vars["imageID"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "invalid image id")
		return
	}

	err = h.service.Delete(r.Context(), account.ID, assetID)
	if errors.Is(err, images.ErrNotFound) {
		httputil.WriteNotFoundError(w, "image not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
