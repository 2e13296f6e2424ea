package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mfshop/storefront/internal/application/selection"
	"github.com/mfshop/storefront/internal/domain/catalog"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/mfshop/storefront/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// SelectionStore is the listing state of the products application
type SelectionStore interface {
	View(products []catalog.Product) selection.View
	SetFilters(patch selection.FiltersPatch) (catalog.Filters, error)
	ResetFilters()
	UI() selection.UI
	SetViewMode(ctx context.Context, mode selection.ViewMode) error
	SetPageSize(ctx context.Context, size int) error
	SetCurrentPage(page int) error
}

// SelectionHandler serves the products listing
type SelectionHandler struct {
	BaseHandler
	store   SelectionStore
	catalog catalog.Reader
}

// NewSelectionHandler creates a new SelectionHandler
func NewSelectionHandler(store SelectionStore, reader catalog.Reader) *SelectionHandler {
	return &SelectionHandler{store: store, catalog: reader}
}

// UpdateUIRequest is the body of PUT /selection/ui; omitted fields are kept
type UpdateUIRequest struct {
	ViewMode    *selection.ViewMode `json:"view_mode"`
	PageSize    *int                `json:"page_size"`
	CurrentPage *int                `json:"current_page"`
}

// Get returns the current page of the filtered listing. An optional page
// query parameter moves to that page first.
func (h *SelectionHandler) Get(c *gin.Context) {
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			h.BadRequest(c, "page must be an integer")
			return
		}
		if err := h.store.SetCurrentPage(page); err != nil {
			h.HandleError(c, err)
			return
		}
	}

	products, err := h.catalog.List(c.Request.Context())
	if err != nil {
		logger.L(c.Request.Context()).Warn("Catalog unavailable", zap.Error(err))
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Product catalog is unavailable, retry later")
		return
	}

	view := h.store.View(products)
	h.SuccessWithMeta(c, view, dto.Meta{
		Total:      view.Pagination.Total,
		Page:       view.Pagination.Current,
		PageSize:   view.Pagination.PageSize,
		TotalPages: view.Pagination.TotalPages,
	})
}

// SetFilters merges the filter patch
func (h *SelectionHandler) SetFilters(c *gin.Context) {
	var patch selection.FiltersPatch
	if !h.bindJSON(c, &patch) {
		return
	}
	filters, err := h.store.SetFilters(patch)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, filters)
}

// ResetFilters restores the default filters
func (h *SelectionHandler) ResetFilters(c *gin.Context) {
	h.store.ResetFilters()
	h.Success(c, catalog.DefaultFilters())
}

// UpdateUI changes the listing layout
func (h *SelectionHandler) UpdateUI(c *gin.Context) {
	var req UpdateUIRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if req.ViewMode != nil {
		if err := h.store.SetViewMode(ctx, *req.ViewMode); err != nil {
			h.HandleError(c, err)
			return
		}
	}
	if req.PageSize != nil {
		if err := h.store.SetPageSize(ctx, *req.PageSize); err != nil {
			h.HandleError(c, err)
			return
		}
	}
	if req.CurrentPage != nil {
		if err := h.store.SetCurrentPage(*req.CurrentPage); err != nil {
			h.HandleError(c, err)
			return
		}
	}
	h.Success(c, h.store.UI())
}
