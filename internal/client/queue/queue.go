// Package queue is the durable FIFO of writes waiting for delivery.
//
// Every mutation is written to the local store before Enqueue returns. Its
// key embeds a per-device sequence number, so listing the store by prefix
// reproduces the original order after a restart. The in-memory slice is only
// a view that Open rebuilds from the store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/ids"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const keyPrefix = "mutation/"

var (
	ErrQueueFull       = errors.New("mutation queue is full")
	ErrInvalidMutation = errors.New("invalid mutation")
	ErrNotFound        = errors.New("mutation not found")
)

func key(seq int64) string {
	return fmt.Sprintf("%s%020d", keyPrefix, seq)
}

type subscriber struct {
	id uint64
	fn func(int)
}

type Queue struct {
	store   store.Store
	logger  logging.Logger
	now     func() time.Time
	maxSize int

	// notifyMu keeps count notifications in the order the writes happened.
	notifyMu sync.Mutex

	mu      sync.Mutex
	items   []*models.Mutation
	lastSeq int64

	subMu  sync.Mutex
	subs   []subscriber
	nextID uint64
}

type Option func(*Queue)

// WithMaxSize bounds the number of pending mutations. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(q *Queue) { q.maxSize = n }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open loads the pending mutations from s in their original order.
func Open(ctx context.Context, s store.Store, logger logging.Logger, opts ...Option) (*Queue, error) {
	q := &Queue{store: s, logger: logging.Module(logger, "queue"), now: time.Now}
	for _, o := range opts {
		o(q)
	}

	recs, err := s.ListByPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	for _, r := range recs {
		m := &models.Mutation{}
		if err := json.Unmarshal(r.Value, m); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s: %w", store.ErrLocalStorage, r.Key, err)
		}
		if seq, err := strconv.ParseInt(strings.TrimPrefix(r.Key, keyPrefix), 10, 64); err == nil {
			m.Seq = seq
		}
		if m.Seq > q.lastSeq {
			q.lastSeq = m.Seq
		}
		q.items = append(q.items, m)
	}

	if len(q.items) > 0 {
		q.logger.Info(ctx, "queue restored", "pending", len(q.items))
	}
	return q, nil
}

// Subscribe registers fn to receive the pending count after every enqueue,
// removal or clear. fn must not modify the queue.
func (q *Queue) Subscribe(fn func(count int)) (unsubscribe func()) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	q.nextID++
	id := q.nextID
	q.subs = append(q.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			q.subMu.Lock()
			defer q.subMu.Unlock()
			for i, s := range q.subs {
				if s.id == id {
					q.subs = append(q.subs[:i:i], q.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// unlockAndNotify releases q.mu and, when the count changed, tells the
// subscribers before any later write can notify.
func (q *Queue) unlockAndNotify(changed bool) {
	if !changed {
		q.mu.Unlock()
		return
	}
	n := len(q.items)
	q.notifyMu.Lock()
	q.mu.Unlock()
	defer q.notifyMu.Unlock()

	q.subMu.Lock()
	subs := make([]subscriber, len(q.subs))
	copy(subs, q.subs)
	q.subMu.Unlock()

	for _, s := range subs {
		s.fn(n)
	}
}

// Enqueue durably appends a mutation and returns its id.
func (q *Queue) Enqueue(ctx context.Context, target string, op models.Operation, payload json.RawMessage) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty target", ErrInvalidMutation)
	}
	if !op.Valid() {
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidMutation, op)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("%w: payload is not valid JSON", ErrInvalidMutation)
	}

	q.mu.Lock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %d pending", ErrQueueFull, q.maxSize)
	}

	now := q.now().UTC()
	m := &models.Mutation{
		ID:         ids.NewAt(now),
		Seq:        q.lastSeq + 1,
		Target:     target,
		Operation:  op,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: now,
	}

	if err := q.put(ctx, m); err != nil {
		q.mu.Unlock()
		return "", err
	}

	q.lastSeq = m.Seq
	q.items = append(q.items, m)
	q.logger.Debug(ctx, "mutation enqueued", "id", m.ID, "target", target, "operation", op, "pending", len(q.items))

	q.unlockAndNotify(true)
	return m.ID, nil
}

func (q *Queue) put(ctx context.Context, m *models.Mutation) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mutation %s: %w", m.ID, err)
	}
	return q.store.Put(ctx, key(m.Seq), raw)
}

func (q *Queue) indexOf(id string) int {
	for i, m := range q.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// PeekAll returns copies of all pending mutations in FIFO order.
func (q *Queue) PeekAll() []*models.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.Mutation, len(q.items))
	for i, m := range q.items {
		out[i] = clone(m)
	}
	return out
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove deletes the mutation with id. Removing an unknown id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()

	i := q.indexOf(id)
	if i < 0 {
		q.mu.Unlock()
		return nil
	}

	if err := q.store.Delete(ctx, key(q.items[i].Seq)); err != nil {
		q.mu.Unlock()
		return err
	}
	q.items = append(q.items[:i:i], q.items[i+1:]...)

	q.unlockAndNotify(true)
	return nil
}

// MarkFailed records a failed delivery attempt on the mutation with id.
func (q *Queue) MarkFailed(ctx context.Context, id string, kind models.FailureKind, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	at := q.now().UTC()
	m := clone(q.items[i])
	m.Attempts++
	m.FailureKind = kind
	m.LastError = reason
	m.LastAttemptAt = &at

	if err := q.put(ctx, m); err != nil {
		return err
	}
	q.items[i] = m
	return nil
}

// ResetFailure clears the recorded failure of the mutation with id so the
// next drain attempts it again. Attempts are kept.
func (q *Queue) ResetFailure(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m := clone(q.items[i])
	m.FailureKind = models.FailureNone
	m.LastError = ""

	if err := q.put(ctx, m); err != nil {
		return err
	}
	q.items[i] = m
	return nil
}

// HasPendingRow reports whether any queued mutation touches the row
// (target, recordID).
func (q *Queue) HasPendingRow(target, recordID string) bool {
	row := models.RowKey(target, recordID)
	if row == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.items {
		if m.RowKey() == row {
			return true
		}
	}
	return false
}

// Clear drops every pending mutation.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()

	recs, err := q.store.ListByPrefix(ctx, keyPrefix)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	for _, r := range recs {
		if err := q.store.Delete(ctx, r.Key); err != nil {
			q.mu.Unlock()
			return err
		}
	}

	changed := len(q.items) > 0
	q.items = nil
	if changed {
		q.logger.Info(ctx, "queue cleared", "dropped", len(recs))
	}

	q.unlockAndNotify(changed)
	return nil
}

func clone(m *models.Mutation) *models.Mutation {
	c := *m
	c.Payload = append(json.RawMessage(nil), m.Payload...)
	if m.LastAttemptAt != nil {
		t := *m.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return &c
}
