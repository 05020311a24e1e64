package fulfillment

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements DeliveryStore in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[string]Delivery
}

// NewMemoryStore creates a new in-memory delivery store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deliveries: make(map[string]Delivery)}
}

// Create stores d unless the transaction already has a delivery
func (s *MemoryStore) Create(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.TransactionID]; ok {
		return fmt.Errorf("transaction %s: %w", d.TransactionID, ErrDeliveryExists)
	}
	s.deliveries[d.TransactionID] = *d
	return nil
}

// FindByTransactionID returns a copy of the stored delivery
func (s *MemoryStore) FindByTransactionID(_ context.Context, transactionID string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrDeliveryNotFound, transactionID)
	}
	return &d, nil
}

// Count returns the number of stored deliveries
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deliveries)
}
