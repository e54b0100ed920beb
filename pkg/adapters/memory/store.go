package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Store implements ports.ExecutionStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Execution
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Execution),
	}
}

// Save persists a deep copy of exec when its revision is current.
func (s *Store) Save(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if prev, ok := s.data[exec.ID]; ok {
		current = prev.Revision
	}
	if exec.Revision != current {
		return domain.ErrConflict
	}

	stored := exec.Clone()
	stored.Revision = current + 1
	s.data[exec.ID] = stored
	exec.Revision = stored.Revision
	return nil
}

// Load returns a copy so callers can't mutate store state through the pointer.
func (s *Store) Load(_ context.Context, id string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.data[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

// ListByStatus returns matching execution IDs in lexical order.
func (s *Store) ListByStatus(_ context.Context, status domain.ExecutionStatus) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, exec := range s.data {
		if exec.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids) // Deterministic order
	return ids, nil
}
