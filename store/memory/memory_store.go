// Package memory provides an in-memory implementation of gar.TxStore for
// tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"gar"
)

var _ gar.TxStore = (*MemoryStore)(nil)

// MemoryStore keeps transactions in a map. Every read and write goes through
// a deep copy so callers never share state with the store.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*gar.Transaction
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		txs: make(map[string]*gar.Transaction),
	}
}

func (s *MemoryStore) Create(ctx context.Context, tx *gar.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.Reference]; exists {
		return gar.ErrDuplicateReference
	}
	s.txs[tx.Reference] = tx.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, reference string) (*gar.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[reference]
	if !ok {
		return nil, gar.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, tx *gar.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.txs[tx.Reference]
	if !ok {
		return gar.ErrTransactionNotFound
	}
	if stored.Version != tx.Version-1 {
		return gar.ErrVersionConflict
	}
	s.txs[tx.Reference] = tx.Clone()
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, filter *gar.Filter) ([]*gar.Transaction, error) {
	s.mu.RLock()
	var out []*gar.Transaction
	for _, tx := range s.txs {
		if filter.Match(tx) {
			out = append(out, tx.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return filter.Page(out), nil
}

// Len returns the number of stored transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}
