// Package catalog provides the product, discount code and stock lookups the
// checkout pipeline depends on.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"checkoutpay/internal/common/money"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrDiscountCodeNotFound = errors.New("discount code not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidDiscount      = errors.New("discount percentage must be between 1 and 100")
)

// Product is a sellable item. Price is expressed in minor units and may carry
// a fractional part when it was imported from an upstream catalog.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UnitPriceInCents returns the floored integer price.
func (p *Product) UnitPriceInCents() int64 {
	return money.FloorMinor(p.Price)
}

// DiscountCode grants a percentage off a subtotal.
type DiscountCode struct {
	ID                 string    `json:"id"`
	Code               string    `json:"code"`
	DiscountPercentage int64     `json:"discount_percentage"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewDiscountCode validates the percentage range and upper-cases the code.
func NewDiscountCode(id, code string, percentage int64) (*DiscountCode, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errors.New("code is required")
	}
	if percentage < 1 || percentage > 100 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDiscount, percentage)
	}

	return &DiscountCode{
		ID:                 id,
		Code:               code,
		DiscountPercentage: percentage,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// CalculateDiscount returns floor(subtotal * percentage / 100).
func (d *DiscountCode) CalculateDiscount(subtotalInCents int64) int64 {
	return money.PercentOf(subtotalInCents, d.DiscountPercentage)
}

// InsufficientStockError reports a line whose requested quantity exceeds stock.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// StockLine is one product quantity to add or remove from inventory.
type StockLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ProductFinder looks up products by id.
type ProductFinder interface {
	FindProduct(ctx context.Context, id string) (*Product, error)
}

// DiscountFinder looks up discount codes. The checkout flow passes the code
// identifier it received from the client, which may be an id or a code.
type DiscountFinder interface {
	FindDiscountByID(ctx context.Context, id string) (*DiscountCode, error)
	FindDiscountByCode(ctx context.Context, code string) (*DiscountCode, error)
}

// StockStore mutates inventory. Both operations are all-or-nothing.
type StockStore interface {
	DeductStock(ctx context.Context, lines []StockLine) error
	RestoreStock(ctx context.Context, lines []StockLine) error
}
