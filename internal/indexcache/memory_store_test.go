package indexcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainforge/evmindex/internal/errs"
)

// memoryStore is a Store fake backed by plain Go maps, standing in for
// SQLStore so the cache's own logic (normalization, conflict handling,
// eviction) can be exercised without a real database.
type memoryStore struct {
	mu   sync.Mutex
	rows map[string]map[string]map[string]any
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]map[string]map[string]any)}
}

func (s *memoryStore) Find(_ context.Context, table *TableSchema, pk any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[table.Name]
	if rows == nil {
		return nil, nil
	}
	row, ok := rows[keyOf(pk)]
	if !ok {
		return nil, nil
	}
	return cloneRow(row), nil
}

func (s *memoryStore) Insert(_ context.Context, table *TableSchema, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[table.Name]
	if rows == nil {
		rows = make(map[string]map[string]any)
		s.rows[table.Name] = rows
	}

	key := keyOf(values[table.PK])
	if _, exists := rows[key]; exists {
		return &errs.UniqueConstraintError{Table: table.Name, Columns: []string{table.PK}, Err: fmt.Errorf("pk already present")}
	}
	rows[key] = cloneRow(values)
	return nil
}

func (s *memoryStore) Update(_ context.Context, table *TableSchema, pk any, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[table.Name]
	if rows == nil {
		rows = make(map[string]map[string]any)
		s.rows[table.Name] = rows
	}
	key := keyOf(pk)
	current := rows[key]
	if current == nil {
		current = make(map[string]any)
	}
	for k, v := range values {
		current[k] = v
	}
	current[table.PK] = pk
	rows[key] = current
	return nil
}

func (s *memoryStore) Delete(_ context.Context, table *TableSchema, pk any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[table.Name]
	if rows == nil {
		return false, nil
	}
	key := keyOf(pk)
	if _, ok := rows[key]; !ok {
		return false, nil
	}
	delete(rows, key)
	return true, nil
}

func (s *memoryStore) Query(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, fmt.Errorf("memoryStore: Query not supported")
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
