// Package pricing turns a cart into integer minor-unit totals.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"checkoutpay/internal/catalog"
)

var ErrInvalidLineItem = errors.New("invalid line item")

// LineItem is one requested product quantity.
type LineItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// ProductLine is a priced line of a calculation.
type ProductLine struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	UnitPriceInCents int64  `json:"unit_price_in_cents"`
	Quantity         int    `json:"quantity"`
	LineTotalInCents int64  `json:"line_total_in_cents"`
}

// Calculation is the priced result for a cart.
type Calculation struct {
	SubtotalInCents     int64         `json:"subtotal_in_cents"`
	DiscountInCents     int64         `json:"discount_in_cents"`
	TotalInCents        int64         `json:"total_in_cents"`
	AppliedDiscountCode string        `json:"applied_discount_code,omitempty"`
	Lines               []ProductLine `json:"lines"`
}

// Calculator prices carts against the current catalog.
type Calculator struct {
	products  catalog.ProductFinder
	discounts catalog.DiscountFinder
	logger    *slog.Logger
}

// NewCalculator creates a new price calculator.
func NewCalculator(products catalog.ProductFinder, discounts catalog.DiscountFinder, logger *slog.Logger) *Calculator {
	return &Calculator{
		products:  products,
		discounts: discounts,
		logger:    logger,
	}
}

// Calculate prices items in input order. Product lookups run concurrently.
// Stock is checked, not reserved. An unknown discount code yields no
// discount rather than an error.
func (c *Calculator) Calculate(ctx context.Context, items []LineItem, discountCode string) (*Calculation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidLineItem)
	}
	for i, item := range items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d has no product id", ErrInvalidLineItem, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidLineItem, i)
		}
	}

	lines := make([]ProductLine, len(items))
	stock := make([]int, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			product, err := c.products.FindProduct(gctx, item.ProductID)
			if err != nil {
				return err
			}
			stock[i] = product.Stock

			unit := product.UnitPriceInCents()
			lines[i] = ProductLine{
				ProductID:        product.ID,
				ProductName:      product.Name,
				UnitPriceInCents: unit,
				Quantity:         item.Quantity,
				LineTotalInCents: unit * int64(item.Quantity),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := checkStock(items, stock); err != nil {
		return nil, err
	}

	calc := &Calculation{Lines: lines}
	for _, line := range lines {
		calc.SubtotalInCents += line.LineTotalInCents
	}

	if discountCode != "" {
		discount, err := c.findDiscount(ctx, discountCode)
		switch {
		case err == nil:
			calc.DiscountInCents = discount.CalculateDiscount(calc.SubtotalInCents)
			calc.AppliedDiscountCode = discount.Code
		case errors.Is(err, catalog.ErrDiscountCodeNotFound):
			c.logger.Warn("discount code not found, continuing without discount",
				"discount_code", discountCode,
			)
		default:
			return nil, fmt.Errorf("looking up discount code: %w", err)
		}
	}

	calc.TotalInCents = calc.SubtotalInCents - calc.DiscountInCents
	return calc, nil
}

// checkStock compares the total requested per product against its stock,
// so a product repeated across lines cannot be sold past what DeductStock
// will later accept.
func checkStock(items []LineItem, stock []int) error {
	requested := make(map[string]int, len(items))
	for _, item := range items {
		requested[item.ProductID] += item.Quantity
	}
	for i, item := range items {
		if want := requested[item.ProductID]; want > stock[i] {
			return &catalog.InsufficientStockError{
				ProductID: item.ProductID,
				Available: stock[i],
				Requested: want,
			}
		}
	}
	return nil
}

// findDiscount accepts either a discount id or a human-entered code.
func (c *Calculator) findDiscount(ctx context.Context, idOrCode string) (*catalog.DiscountCode, error) {
	discount, err := c.discounts.FindDiscountByID(ctx, idOrCode)
	if err == nil || !errors.Is(err, catalog.ErrDiscountCodeNotFound) {
		return discount, err
	}
	return c.discounts.FindDiscountByCode(ctx, idOrCode)
}
