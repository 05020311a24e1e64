package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscountCode(t *testing.T) {
	d, err := NewDiscountCode("dc_1", "  summer10 ", 10)
	require.NoError(t, err)
	assert.Equal(t, "SUMMER10", d.Code)

	_, err = NewDiscountCode("dc_2", "ZERO", 0)
	assert.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = NewDiscountCode("dc_3", "TOO_MUCH", 101)
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestCalculateDiscount(t *testing.T) {
	d, err := NewDiscountCode("dc_1", "TEN", 10)
	require.NoError(t, err)

	assert.Equal(t, int64(39999), d.CalculateDiscount(399999))
	assert.Equal(t, int64(0), d.CalculateDiscount(9))
}

func TestUnitPriceInCents_Floors(t *testing.T) {
	p := Product{Price: decimal.RequireFromString("1999.99")}
	assert.Equal(t, int64(1999), p.UnitPriceInCents())
}

func TestInsufficientStockError(t *testing.T) {
	var err error = &InsufficientStockError{ProductID: "p1", Available: 1, Requested: 3}

	assert.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 1, stockErr.Available)
	assert.Contains(t, err.Error(), "available 1, requested 3")
}

func setupStore() *MemoryStore {
	s := NewMemoryStore()
	s.PutProduct(Product{ID: "p1", Name: "Lamp", Price: decimal.NewFromInt(10000), Stock: 5})
	s.PutProduct(Product{ID: "p2", Name: "Desk", Price: decimal.NewFromInt(50000), Stock: 1})
	return s
}

func TestMemoryStore_DeductStock_AllOrNothing(t *testing.T) {
	s := setupStore()
	ctx := context.Background()

	err := s.DeductStock(ctx, []StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 2},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)

	p1, err := s.FindProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Stock, "no partial deduction")
}

func TestMemoryStore_DeductStock_MergesRepeatedLines(t *testing.T) {
	s := setupStore()
	ctx := context.Background()

	err := s.DeductStock(ctx, []StockLine{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p1", Quantity: 3},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, s.DeductStock(ctx, []StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 3},
	}))
	p1, _ := s.FindProduct(ctx, "p1")
	assert.Equal(t, 0, p1.Stock)
}

func TestMergeLines_SortedByProductID(t *testing.T) {
	a := mergeLines([]StockLine{{ProductID: "b", Quantity: 1}, {ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 3}})
	b := mergeLines([]StockLine{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 4}})

	want := []StockLine{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 4}}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}

func TestMemoryStore_DeductStock_UnknownProduct(t *testing.T) {
	s := setupStore()
	err := s.DeductStock(context.Background(), []StockLine{{ProductID: "nope", Quantity: 1}})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestMemoryStore_ConcurrentDeductionsNeverOversell(t *testing.T) {
	s := setupStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.DeductStock(ctx, []StockLine{{ProductID: "p2", Quantity: 1}}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	p2, _ := s.FindProduct(ctx, "p2")
	assert.Equal(t, 0, p2.Stock)
}

func TestMemoryStore_RestoreStock(t *testing.T) {
	s := setupStore()
	ctx := context.Background()

	require.NoError(t, s.DeductStock(ctx, []StockLine{{ProductID: "p1", Quantity: 4}}))
	require.NoError(t, s.RestoreStock(ctx, []StockLine{{ProductID: "p1", Quantity: 4}}))

	p1, _ := s.FindProduct(ctx, "p1")
	assert.Equal(t, 5, p1.Stock)
}

func TestMemoryStore_FindDiscountByCode(t *testing.T) {
	s := NewMemoryStore()
	d, err := NewDiscountCode("dc_1", "welcome", 15)
	require.NoError(t, err)
	s.PutDiscount(*d)

	found, err := s.FindDiscountByCode(context.Background(), "Welcome")
	require.NoError(t, err)
	assert.Equal(t, "dc_1", found.ID)

	_, err = s.FindDiscountByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDiscountCodeNotFound)
}
