// Package store is the durable key/value substrate every engine component
// persists through. Each call is atomic on its own; there are no
// multi-key transactions at this level.
package store

import (
	"context"
	"errors"
)

// ErrLocalStorage marks failures of the local store. Callers must not
// swallow it: a write lost locally is worse than a visible error.
var ErrLocalStorage = errors.New("local storage error")

// Record is one key/value pair.
type Record struct {
	Key   string
	Value []byte
}

// Store is the durable key/value contract.
//
// Get returns (nil, nil) for a missing key. ListByPrefix returns records in
// ascending byte order of their keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]Record, error)
}
