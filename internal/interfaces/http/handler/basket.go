package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/mfshop/storefront/internal/domain/basket"
	"github.com/shopspring/decimal"
)

// BasketStore is the part of a basket store the handler drives
type BasketStore interface {
	Items() []basket.LineItem
	TotalItemCount() int
	TotalPrice() decimal.Decimal
	Add(ctx context.Context, p basket.Product) error
	Remove(ctx context.Context, id basket.ProductID)
	SetQuantity(ctx context.Context, id basket.ProductID, quantity int)
	Clear(ctx context.Context)
}

// BasketHandler exposes the application's basket
type BasketHandler struct {
	BaseHandler
	store BasketStore
	money *MoneyFormatter
}

// NewBasketHandler creates a new BasketHandler
func NewBasketHandler(store BasketStore, money *MoneyFormatter) *BasketHandler {
	return &BasketHandler{store: store, money: money}
}

// LineItemResponse is one basket line
type LineItemResponse struct {
	ID                basket.ProductID `json:"id"`
	Title             string           `json:"title,omitempty"`
	Price             decimal.Decimal  `json:"price"`
	Image             string           `json:"image,omitempty"`
	Quantity          int              `json:"quantity"`
	Subtotal          decimal.Decimal  `json:"subtotal"`
	FormattedSubtotal string           `json:"formatted_subtotal"`
}

// BasketResponse is the basket state
type BasketResponse struct {
	Items               []LineItemResponse `json:"items"`
	TotalItems          int                `json:"total_items"`
	TotalPrice          decimal.Decimal    `json:"total_price"`
	FormattedTotalPrice string             `json:"formatted_total_price"`
	Currency            string             `json:"currency"`
}

// AddItemRequest is the body of POST /basket/items
type AddItemRequest struct {
	ID    int64           `json:"id" binding:"required"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image"`
}

// SetQuantityRequest is the body of PUT /basket/items/:id/quantity. A
// quantity below 1 removes the item.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *BasketHandler) response() BasketResponse {
	items := h.store.Items()
	out := make([]LineItemResponse, 0, len(items))
	for _, it := range items {
		subtotal := it.Subtotal()
		out = append(out, LineItemResponse{
			ID:                it.ID,
			Title:             it.Title,
			Price:             it.Price,
			Image:             it.Image,
			Quantity:          it.Quantity,
			Subtotal:          subtotal,
			FormattedSubtotal: h.money.Format(subtotal),
		})
	}
	total := h.store.TotalPrice()
	return BasketResponse{
		Items:               out,
		TotalItems:          h.store.TotalItemCount(),
		TotalPrice:          total,
		FormattedTotalPrice: h.money.Format(total),
		Currency:            h.money.Currency(),
	}
}

// Get returns the basket
func (h *BasketHandler) Get(c *gin.Context) {
	h.Success(c, h.response())
}

// AddItem adds one unit of a product
func (h *BasketHandler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if !h.bindJSON(c, &req) {
		return
	}

	p := basket.Product{
		ID:    basket.ProductID(req.ID),
		Title: req.Title,
		Price: req.Price,
		Image: req.Image,
	}
	if err := h.store.Add(c.Request.Context(), p); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, h.response())
}

// RemoveItem removes a line item; removing a missing id is a no-op
func (h *BasketHandler) RemoveItem(c *gin.Context) {
	id, err := basket.ParseProductID(c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.store.Remove(c.Request.Context(), id)
	h.Success(c, h.response())
}

// SetQuantity sets the quantity of a line item
func (h *BasketHandler) SetQuantity(c *gin.Context) {
	id, err := basket.ParseProductID(c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	var req SetQuantityRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.store.SetQuantity(c.Request.Context(), id, *req.Quantity)
	h.Success(c, h.response())
}

// Clear empties the basket
func (h *BasketHandler) Clear(c *gin.Context) {
	h.store.Clear(c.Request.Context())
	h.Success(c, h.response())
}
