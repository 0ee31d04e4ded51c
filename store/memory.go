package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type rowKey struct {
	kind string
	id   string
}

// MemoryStore implements Store using an in-memory map. Thread-safe.
type MemoryStore struct {
	rows map[rowKey]*Entity
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[rowKey]*Entity),
	}
}

// Create inserts a new row with a generated id
func (s *MemoryStore) Create(_ context.Context, kind, status string, data map[string]any) (*Entity, error) {
	now := time.Now()
	e := &Entity{
		Kind:      kind,
		ID:        uuid.NewString(),
		Status:    status,
		Data:      stripReserved(data),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.rows[rowKey{kind, e.ID}] = e
	s.mu.Unlock()

	return e.clone(), nil
}

// Get returns a copy of the row
func (s *MemoryStore) Get(_ context.Context, kind, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rows[rowKey{kind, id}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return e.clone(), nil
}

// List returns every row of kind, oldest first
func (s *MemoryStore) List(_ context.Context, kind string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entity
	for k, e := range s.rows {
		if k.kind == kind {
			out = append(out, e.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Entity) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// UpdateData replaces the row's data. Status is not touched.
func (s *MemoryStore) UpdateData(_ context.Context, kind, id string, data map[string]any) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[rowKey{kind, id}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	e.Data = stripReserved(data)
	e.UpdatedAt = time.Now()
	return e.clone(), nil
}

// Delete removes the row
func (s *MemoryStore) Delete(_ context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rowKey{kind, id}
	if _, ok := s.rows[k]; !ok {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	delete(s.rows, k)
	return nil
}

// GetEntityState returns the row's current status
func (s *MemoryStore) GetEntityState(_ context.Context, kind, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rows[rowKey{kind, id}]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return e.Status, nil
}

// SetEntityState sets status to next if it still equals expected
func (s *MemoryStore) SetEntityState(_ context.Context, kind, id, expected, next string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[rowKey{kind, id}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if e.Status != expected {
		return nil, fmt.Errorf("%s %s is %q, expected %q: %w", kind, id, e.Status, expected, ErrStateConflict)
	}

	e.Status = next
	e.UpdatedAt = time.Now()
	return e.clone(), nil
}
