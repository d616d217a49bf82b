package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/cache"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/obs"
)

type SyncState int

const (
	StateIdle SyncState = iota
	StateSyncing
	StateSuspended
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// ReadSource tells where the data of a read came from.
type ReadSource string

const (
	SourceRemote ReadSource = "remote"
	SourceCache  ReadSource = "cache"
	SourceNone   ReadSource = "none"
)

// ReadResult is the answer of FetchOrCache. Source is SourceNone when
// nothing could be served. FetchErr keeps the remote failure that forced a
// fallback to the cache, if any.
type ReadResult struct {
	Data     json.RawMessage
	Source   ReadSource
	CachedAt time.Time
	Stale    bool
	FetchErr error
}

func (r ReadResult) Available() bool { return r.Source != SourceNone }

type WriteOutcome int

const (
	// OutcomeApplied means the remote store acknowledged the write.
	OutcomeApplied WriteOutcome = iota
	// OutcomeQueued means the write is stored locally and waits for a drain.
	OutcomeQueued
)

func (o WriteOutcome) String() string {
	if o == OutcomeApplied {
		return "applied"
	}
	return "queued"
}

type WriteResult struct {
	Outcome    WriteOutcome
	MutationID string
}

// DrainResult summarizes one drain pass. Held counts mutations rejected in
// an earlier pass, which wait for the user instead of being retried.
type DrainResult struct {
	Attempted  int
	Applied    int
	Retryable  int
	Rejected   int
	Deferred   int
	Held       int
	Skipped    bool
	SkipReason string
}

type (
	FetchFunc func(ctx context.Context) (json.RawMessage, error)
	ApplyFunc func(ctx context.Context) error
)

// Syncer mediates reads between the remote store and the cache and owns
// delivery of queued writes. Only one drain runs at a time; concurrent
// requests while one is running are no-ops, except that writes queued during
// a pass get one follow-up pass once it ends.
type Syncer struct {
	monitor *netmon.Monitor
	queue   *queue.Queue
	cache   *cache.Manager
	remote  client.RemoteStore
	logger  logging.Logger
	metrics *obs.Metrics
	now     func() time.Time

	mu      sync.Mutex
	state   SyncState
	running chan struct{}
	rerun   bool
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsub   []func()
}

type SyncerOption func(*Syncer)

func WithSyncMetrics(m *obs.Metrics) SyncerOption {
	return func(s *Syncer) { s.metrics = m }
}

func WithSyncClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

func NewSyncer(m *netmon.Monitor, q *queue.Queue, c *cache.Manager, remote client.RemoteStore, logger logging.Logger, opts ...SyncerOption) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		monitor: m,
		queue:   q,
		cache:   c,
		remote:  remote,
		logger:  logging.Module(logger, "syncer"),
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start subscribes to reconnects and kicks off a drain when the device is
// already online with pending writes.
func (s *Syncer) Start(ctx context.Context) {
	s.unsub = append(s.unsub,
		s.monitor.Subscribe(func(st netmon.State) {
			s.metrics.Transition(st.Online)
			if st.Online {
				s.DrainAsync()
			}
		}),
		s.queue.Subscribe(s.metrics.SetPending),
	)
	s.metrics.SetPending(s.queue.Count())

	if s.monitor.Current().Online && s.queue.Count() > 0 {
		s.DrainAsync()
	}
	s.logger.Debug(ctx, "syncer started", "pending", s.queue.Count())
}

// Close stops background drains and waits for them. A drain in progress
// finishes its current item first.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	for _, u := range s.unsub {
		u()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Suspend pauses syncing until Resume and waits for a running drain to stop.
func (s *Syncer) Suspend(ctx context.Context) {
	s.mu.Lock()
	s.state = StateSuspended
	running := s.running
	s.mu.Unlock()

	s.logger.Info(ctx, "sync suspended")

	if running == nil {
		return
	}
	select {
	case <-running:
	case <-ctx.Done():
	}
}

// Resume leaves the suspended state and drains if there is anything to send.
func (s *Syncer) Resume(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateSuspended {
		s.state = StateIdle
		s.logger.Info(ctx, "sync resumed")
	}
	s.mu.Unlock()

	if s.monitor.Current().Online && s.queue.Count() > 0 {
		s.DrainAsync()
	}
}

// DrainAsync runs Drain on a background goroutine owned by the Syncer.
func (s *Syncer) DrainAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		res, err := s.Drain(s.baseCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(s.baseCtx, "background drain failed", "error", err)
			return
		}
		if !res.Skipped && res.Attempted > 0 {
			s.logger.Info(s.baseCtx, "background drain finished",
				"applied", res.Applied, "retryable", res.Retryable, "rejected", res.Rejected,
				"deferred", res.Deferred, "pending", s.queue.Count())
		}
	}()
}

// requestDrain starts a background drain, or asks the running one for a
// follow-up pass so that writes queued after its snapshot are not stranded.
func (s *Syncer) requestDrain() {
	s.mu.Lock()
	if s.state == StateSyncing {
		s.rerun = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.DrainAsync()
}

func (s *Syncer) begin() (DrainResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateSuspended:
		return DrainResult{Skipped: true, SkipReason: "suspended"}, false
	case s.state == StateSyncing:
		return DrainResult{Skipped: true, SkipReason: "already syncing"}, false
	case !s.monitor.Current().Online:
		return DrainResult{Skipped: true, SkipReason: "offline"}, false
	case s.queue.Count() == 0:
		return DrainResult{}, false
	}

	s.state = StateSyncing
	s.running = make(chan struct{})
	return DrainResult{}, true
}

// end leaves the Syncing state and reports whether a follow-up pass was
// requested meanwhile.
func (s *Syncer) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rerun := s.rerun && s.state == StateSyncing
	s.rerun = false
	if s.state == StateSyncing {
		s.state = StateIdle
	}
	close(s.running)
	s.running = nil
	return rerun
}

func (s *Syncer) suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSuspended
}

// Drain delivers a snapshot of the queue in FIFO order. Failed items stay
// queued and are not retried in the same pass; later items for a row that
// failed in this pass are deferred so they never overtake it. Items rejected
// in earlier passes are held until ResetFailure and block their row too.
// ctx is checked only between items; an item in flight always completes.
func (s *Syncer) Drain(ctx context.Context) (DrainResult, error) {
	res, ok := s.begin()
	if !ok {
		if res.Skipped {
			s.logger.Debug(ctx, "drain skipped", "reason", res.SkipReason)
		}
		return res, nil
	}
	defer func() {
		if s.end() {
			s.DrainAsync()
		}
	}()

	itemCtx := context.WithoutCancel(ctx)
	blocked := make(map[string]bool)

	for _, m := range s.queue.PeekAll() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.suspended() {
			break
		}

		row := m.RowKey()
		if row != "" && blocked[row] {
			res.Deferred++
			s.metrics.DrainItem(obs.OutcomeDeferred)
			continue
		}
		if m.FailureKind == models.FailureRejected {
			res.Held++
			s.metrics.DrainItem(obs.OutcomeHeld)
			if row != "" {
				blocked[row] = true
			}
			continue
		}

		res.Attempted++
		err := client.Apply(itemCtx, s.remote, m)
		if err == nil {
			if err := s.queue.Remove(itemCtx, m.ID); err != nil {
				return res, fmt.Errorf("failed to remove delivered mutation %s: %w", m.ID, err)
			}
			res.Applied++
			s.metrics.DrainItem(obs.OutcomeApplied)
			continue
		}

		kind := models.FailureTransient
		if client.IsRetryable(err) {
			res.Retryable++
			s.metrics.DrainItem(obs.OutcomeRetryable)
		} else {
			kind = models.FailureRejected
			res.Rejected++
			s.metrics.DrainItem(obs.OutcomeRejected)
		}
		if row != "" {
			blocked[row] = true
		}

		s.logger.Warn(ctx, "mutation not delivered", "id", m.ID, "target", m.Target, "kind", kind, "error", err)

		if err := s.queue.MarkFailed(itemCtx, m.ID, kind, err.Error()); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return res, fmt.Errorf("failed to record failure of %s: %w", m.ID, err)
		}
	}

	return res, nil
}

// FetchOrCache serves key from the remote store when online, refreshing the
// cache, and from the cache otherwise. Offline it never calls fetch and
// ignores stale entries; online it falls back to any cached entry, stale or
// not, when fetch fails. Only local storage errors are returned.
func (s *Syncer) FetchOrCache(ctx context.Context, key string, fetch FetchFunc) (ReadResult, error) {
	if !s.monitor.Current().Online {
		e, err := s.cache.Get(ctx, key)
		if err != nil {
			return ReadResult{}, err
		}
		return s.fromCache(e, nil), nil
	}

	data, fetchErr := fetch(ctx)
	if fetchErr == nil {
		if err := s.cache.Put(ctx, key, data); err != nil {
			s.logger.Warn(ctx, "failed to cache fresh data", "key", key, "error", err)
		}
		s.metrics.Read(string(SourceRemote))
		return ReadResult{Data: data, Source: SourceRemote, CachedAt: s.now().UTC()}, nil
	}

	s.logger.Debug(ctx, "fetch failed, serving cache", "key", key, "error", fetchErr)

	e, err := s.cache.Peek(ctx, key)
	if err != nil {
		return ReadResult{}, err
	}
	return s.fromCache(e, fetchErr), nil
}

func (s *Syncer) fromCache(e *models.CacheEntry, fetchErr error) ReadResult {
	if e == nil {
		s.metrics.Read(string(SourceNone))
		return ReadResult{Source: SourceNone, FetchErr: fetchErr}
	}
	s.metrics.Read(string(SourceCache))
	return ReadResult{
		Data:     e.Data,
		Source:   SourceCache,
		CachedAt: e.CachedAt,
		Stale:    e.Age(s.now()) >= s.cache.TTL(),
		FetchErr: fetchErr,
	}
}

// Read is FetchOrCache against the configured remote store with the query
// doubling as the cache key.
func (s *Syncer) Read(ctx context.Context, query string) (ReadResult, error) {
	return s.FetchOrCache(ctx, query, func(ctx context.Context) (json.RawMessage, error) {
		return s.remote.Fetch(ctx, query)
	})
}

// ApplyOrQueue applies a write remotely when possible and queues it
// otherwise. Offline, suspended, or behind queued writes for the same row,
// the write is queued without calling apply; behind a row while online, a
// drain is requested to deliver it. Online, any apply failure queues the
// write and requests a drain. Queue and storage failures are returned;
// remote failures never are.
func (s *Syncer) ApplyOrQueue(ctx context.Context, target string, op models.Operation, payload json.RawMessage, apply ApplyFunc) (WriteResult, error) {
	if target == "" || !op.Valid() {
		return WriteResult{}, fmt.Errorf("%w: target %q operation %q", queue.ErrInvalidMutation, target, op)
	}

	online := s.monitor.Current().Online
	behind := s.queue.HasPendingRow(target, models.RecordID(payload))

	suspended := s.suspended()

	if !online || behind || suspended {
		id, err := s.queue.Enqueue(ctx, target, op, payload)
		if err != nil {
			return WriteResult{}, err
		}
		s.logger.Debug(ctx, "write queued", "id", id, "target", target, "online", online, "behind", behind)
		if online && !suspended {
			s.requestDrain()
		}
		return WriteResult{Outcome: OutcomeQueued, MutationID: id}, nil
	}

	applyErr := apply(ctx)
	if applyErr == nil {
		return WriteResult{Outcome: OutcomeApplied}, nil
	}

	id, err := s.queue.Enqueue(ctx, target, op, payload)
	if err != nil {
		return WriteResult{}, err
	}

	kind := models.FailureTransient
	if !client.IsRetryable(applyErr) {
		kind = models.FailureRejected
	}
	if err := s.queue.MarkFailed(ctx, id, kind, applyErr.Error()); err != nil {
		return WriteResult{}, err
	}

	s.logger.Info(ctx, "write queued after remote failure", "id", id, "target", target, "kind", kind, "error", applyErr)
	s.requestDrain()
	return WriteResult{Outcome: OutcomeQueued, MutationID: id}, nil
}

// Write is ApplyOrQueue against the configured remote store.
func (s *Syncer) Write(ctx context.Context, target string, op models.Operation, payload json.RawMessage) (WriteResult, error) {
	m := &models.Mutation{Target: target, Operation: op, Payload: payload}
	return s.ApplyOrQueue(ctx, target, op, payload, func(ctx context.Context) error {
		return client.Apply(ctx, s.remote, m)
	})
}

// Pending returns the queued mutations in delivery order.
func (s *Syncer) Pending() []*models.Mutation {
	return s.queue.PeekAll()
}

func (s *Syncer) PendingCount() int {
	return s.queue.Count()
}

// Retry clears a recorded failure so the next drain attempts the mutation.
func (s *Syncer) Retry(ctx context.Context, id string) error {
	if err := s.queue.ResetFailure(ctx, id); err != nil {
		return err
	}
	s.requestDrain()
	return nil
}

// Discard drops a queued mutation without delivering it.
func (s *Syncer) Discard(ctx context.Context, id string) error {
	s.logger.Warn(ctx, "mutation discarded by user", "id", id)
	return s.queue.Remove(ctx, id)
}
