package basket

import (
	"reflect"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ProductID identifies a product. It is stable across processes and unique
// within a basket.
type ProductID int64

// Valid reports whether id can key a line item.
func (id ProductID) Valid() bool {
	return id > 0
}

// String returns the decimal representation of the id
func (id ProductID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseProductID parses a decimal product id
func ParseProductID(s string) (ProductID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, shared.NewDomainError("INVALID_PRODUCT_ID", "Product id must be an integer")
	}
	id := ProductID(n)
	if !id.Valid() {
		return 0, shared.NewDomainError("INVALID_PRODUCT_ID", "Product id must be positive")
	}
	return id, nil
}

// Product is a line item without its quantity. It is what callers hand to
// Add and what travels in an ADD message.
type Product struct {
	ID    ProductID       `json:"id" validate:"gt=0"`
	Title string          `json:"title,omitempty" validate:"max=500"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
	Image string          `json:"image,omitempty"`
}

// LineItem is one product entry in a basket. Quantity is always >= 1 while
// the item is part of a basket.
type LineItem struct {
	Product
	Quantity int `json:"quantity"`
}

// Subtotal returns price × quantity
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func productValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	})
	return validate
}

// Validate checks that p can be inserted into a basket.
func (p Product) Validate() error {
	if err := productValidator().Struct(p); err != nil {
		return shared.NewDomainError(shared.ErrInvalidProduct.Code, "Invalid product: "+err.Error())
	}
	return nil
}
