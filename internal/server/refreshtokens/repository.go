// Package refreshtokens tracks refresh tokens revoked by sign-out. Refresh
// tokens are stateless JWTs; only revocations need storage.
package refreshtokens

import (
	"context"
	"sync"
	"time"
)

type Repository interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRepository keeps revocations until the token would have expired
// anyway.
type MemoryRepository struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{revoked: map[string]time.Time{}, now: time.Now}
}

func (r *MemoryRepository) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	r.revoked[tokenID] = expiresAt
	return nil
}

func (r *MemoryRepository) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.revoked[tokenID]
	return ok, nil
}

func (r *MemoryRepository) prune() {
	now := r.now()
	for id, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, id)
		}
	}
}
