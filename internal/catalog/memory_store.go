package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore implements the catalog interfaces with in-memory storage.
type MemoryStore struct {
	mu        sync.RWMutex
	products  map[string]*Product
	discounts map[string]*DiscountCode // id -> discount
}

// NewMemoryStore creates a new in-memory catalog store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]*Product),
		discounts: make(map[string]*DiscountCode),
	}
}

var (
	_ ProductFinder  = (*MemoryStore)(nil)
	_ DiscountFinder = (*MemoryStore)(nil)
	_ StockStore     = (*MemoryStore)(nil)
)

// PutProduct inserts or replaces a product
func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutDiscount inserts or replaces a discount code
func (s *MemoryStore) PutDiscount(d DiscountCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[d.ID] = &d
}

// FindProduct returns a copy of the product
func (s *MemoryStore) FindProduct(_ context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// FindDiscountByID returns a copy of the discount code
func (s *MemoryStore) FindDiscountByID(_ context.Context, id string) (*DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.discounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiscountCodeNotFound, id)
	}
	cp := *d
	return &cp, nil
}

// FindDiscountByCode matches codes case-insensitively
func (s *MemoryStore) FindDiscountByCode(_ context.Context, code string) (*DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	for _, d := range s.discounts {
		if d.Code == code {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDiscountCodeNotFound, code)
}

// DeductStock validates every line before touching any stock
func (s *MemoryStore) DeductStock(_ context.Context, lines []StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := mergeLines(lines)

	// First pass: validate all items have sufficient stock
	for _, line := range merged {
		p, ok := s.products[line.ProductID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if p.Stock < line.Quantity {
			return &InsufficientStockError{
				ProductID: line.ProductID,
				Available: p.Stock,
				Requested: line.Quantity,
			}
		}
	}

	// Second pass: deduct
	for _, line := range merged {
		s.products[line.ProductID].Stock -= line.Quantity
	}
	return nil
}

// RestoreStock adds quantities back
func (s *MemoryStore) RestoreStock(_ context.Context, lines []StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := mergeLines(lines)
	for _, line := range merged {
		if _, ok := s.products[line.ProductID]; !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
	}
	for _, line := range merged {
		s.products[line.ProductID].Stock += line.Quantity
	}
	return nil
}
