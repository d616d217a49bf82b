// Package records stores the farm records served by the development
// server: one JSON document per (target, id).
package records

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrInvalid  = errors.New("invalid record")
)

// Repository stores records. Insert replaces an existing row and Delete of a
// missing row succeeds, so a replayed write lands the same way twice.
type Repository interface {
	Insert(ctx context.Context, target, id string, data json.RawMessage) error
	Update(ctx context.Context, target, id string, data json.RawMessage) error
	Delete(ctx context.Context, target, id string) error
	Get(ctx context.Context, target, id string) (json.RawMessage, error)
	List(ctx context.Context, target string) ([]json.RawMessage, error)
}

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	tables map[string]map[string]json.RawMessage
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: map[string]map[string]json.RawMessage{}}
}

func (r *MemoryRepository) Insert(_ context.Context, target, id string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[target]
	if !ok {
		t = map[string]json.RawMessage{}
		r.tables[target] = t
	}
	t[id] = slices.Clone(data)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, target, id string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tables[target]
	if _, ok := t[id]; !ok {
		return ErrNotFound
	}
	t[id] = slices.Clone(data)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, target, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tables[target], id)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, target, id string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.tables[target][id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

// List returns the records of target ordered by id.
func (r *MemoryRepository) List(_ context.Context, target string) ([]json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := r.tables[target]
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, slices.Clone(t[k]))
	}
	return out, nil
}
