package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"checkoutpay/internal/common/database"
	"checkoutpay/internal/payment/domain"
)

// MemoryStore implements the transaction repository in memory with the
// same version semantics as PostgresStore.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*domain.Transaction
}

// NewMemoryStore creates a new in-memory transaction store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*domain.Transaction)}
}

// Create stores a copy of tx
func (s *MemoryStore) Create(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, database.ErrAlreadyExists)
	}
	for _, existing := range s.txs {
		if existing.Reference == tx.Reference {
			return fmt.Errorf("transaction with reference %s: %w", tx.Reference, database.ErrAlreadyExists)
		}
	}
	s.txs[tx.ID] = tx.Clone()
	return nil
}

// FindByID returns a copy of the stored transaction
func (s *MemoryStore) FindByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return tx.Clone(), nil
}

// FindByReference returns a copy of the stored transaction
func (s *MemoryStore) FindByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	return s.findFirst(func(tx *domain.Transaction) bool { return tx.Reference == reference })
}

// FindByCustomerEmail lists transactions newest first
func (s *MemoryStore) FindByCustomerEmail(_ context.Context, email string, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range s.txs {
		if tx.CustomerEmail == email {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update applies the version check and stores a copy
func (s *MemoryStore) Update(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.txs[tx.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, database.ErrNotFound)
	}
	if current.Version != tx.Version {
		return fmt.Errorf("transaction %s version %d: %w", tx.ID, tx.Version, database.ErrConflict)
	}

	tx.Version++
	s.txs[tx.ID] = tx.Clone()
	return nil
}

func (s *MemoryStore) findFirst(match func(*domain.Transaction) bool) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.txs {
		if match(tx) {
			return tx.Clone(), nil
		}
	}
	return nil, database.ErrNotFound
}
