// Package catalog models the product records served by the catalog
// collaborator and the filtering the products app applies to them.
package catalog

import (
	"context"

	"github.com/mfshop/storefront/internal/domain/basket"
	"github.com/shopspring/decimal"
)

// Rating is the aggregated customer rating of a product
type Rating struct {
	Rate  float64 `json:"rate"`
	Count int     `json:"count"`
}

// Product is one catalog record
type Product struct {
	ID          basket.ProductID `json:"id"`
	Title       string           `json:"title"`
	Price       decimal.Decimal  `json:"price"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Image       string           `json:"image"`
	Rating      Rating           `json:"rating"`
}

// ToBasketProduct returns the basket payload for p
func (p Product) ToBasketProduct() basket.Product {
	return basket.Product{
		ID:    p.ID,
		Title: p.Title,
		Price: p.Price,
		Image: p.Image,
	}
}

// Reader retrieves the product list. Failures are surfaced to the caller as
// retryable errors; the basket core never calls it.
type Reader interface {
	List(ctx context.Context) ([]Product, error)
}
