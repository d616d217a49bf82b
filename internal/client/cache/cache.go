// Package cache keeps last-known-good read results in the local store.
// Entries expire by TTL, evaluated when read; nothing is purged proactively.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "cache/"
)

type Manager struct {
	store  store.Store
	ttl    time.Duration
	now    func() time.Time
	logger logging.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a cache over s. A non-positive ttl means DefaultTTL.
func New(s store.Store, ttl time.Duration, logger logging.Logger, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{store: s, ttl: ttl, now: time.Now, logger: logging.Module(logger, "cache")}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Get returns the entry for key, or nil when it is missing or older than
// the TTL.
func (m *Manager) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	e, err := m.Peek(ctx, key)
	if err != nil || e == nil {
		return nil, err
	}
	if e.Age(m.now()) >= m.ttl {
		m.logger.Debug(ctx, "cache entry stale", "key", key, "cached_at", e.CachedAt)
		return nil, nil
	}
	return e, nil
}

// Peek returns the entry for key regardless of its age.
func (m *Manager) Peek(ctx context.Context, key string) (*models.CacheEntry, error) {
	raw, err := m.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	e := &models.CacheEntry{}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("%w: failed to decode cache entry %q: %w", store.ErrLocalStorage, key, err)
	}
	return e, nil
}

// Put replaces the entry for key with data stamped with the current time.
func (m *Manager) Put(ctx context.Context, key string, data json.RawMessage) error {
	e := models.CacheEntry{Key: key, Data: data, CachedAt: m.now().UTC()}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}
	return m.store.Put(ctx, keyPrefix+key, raw)
}

func (m *Manager) Invalidate(ctx context.Context, key string) error {
	return m.store.Delete(ctx, keyPrefix+key)
}

func (m *Manager) ClearAll(ctx context.Context) error {
	recs, err := m.store.ListByPrefix(ctx, keyPrefix)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := m.store.Delete(ctx, r.Key); err != nil {
			return err
		}
	}
	m.logger.Debug(ctx, "cache cleared", "entries", len(recs))
	return nil
}
