package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/cache"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/vault"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/stretchr/testify/require"
)

// ---- fake remote store ----

type fakeRemote struct {
	mu       sync.Mutex
	calls    []string
	failures map[string][]error
	hook     func(call string)

	fetchData  json.RawMessage
	fetchErr   error
	fetchCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{failures: map[string][]error{}}
}

// failNext makes the next attempts of call fail with errs, in order.
func (f *fakeRemote) failNext(call string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[call] = append(f.failures[call], errs...)
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	var err error
	if errs := f.failures[call]; len(errs) > 0 {
		err = errs[0]
		f.failures[call] = errs[1:]
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) Insert(_ context.Context, target string, payload json.RawMessage) error {
	return f.record(fmt.Sprintf("insert %s %s", target, models.RecordID(payload)))
}

func (f *fakeRemote) Update(_ context.Context, target, id string, _ json.RawMessage) error {
	return f.record(fmt.Sprintf("update %s %s", target, id))
}

func (f *fakeRemote) Delete(_ context.Context, target, id string) error {
	return f.record(fmt.Sprintf("delete %s %s", target, id))
}

func (f *fakeRemote) Fetch(_ context.Context, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.fetchData, f.fetchErr
}

// ---- fake auth client ----

type fakeAuth struct {
	mu sync.Mutex

	SignInRet *models.Session
	SignInErr error

	CurrentRet *models.Session
	CurrentErr error

	SignOutErr error

	SignInCalls  int
	CurrentCalls int
	SignOutCalls int
	Restored     *models.Session
	RestoreCalls int
}

func (f *fakeAuth) SignIn(_ context.Context, _, _ string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SignInCalls++
	if f.SignInErr != nil {
		return nil, f.SignInErr
	}
	s := *f.SignInRet
	return &s, nil
}

func (f *fakeAuth) CurrentSession(context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CurrentCalls++
	if f.CurrentErr != nil || f.CurrentRet == nil {
		return nil, f.CurrentErr
	}
	s := *f.CurrentRet
	return &s, nil
}

func (f *fakeAuth) Restore(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestoreCalls++
	f.Restored = s
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SignOutCalls++
	return f.SignOutErr
}

func (f *fakeAuth) set(fn func(f *fakeAuth)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAuth) currentCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CurrentCalls
}

var _ client.AuthClient = (*fakeAuth)(nil)
var _ client.RemoteStore = (*fakeRemote)(nil)

// ---- harness ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store   store.Store
	monitor *netmon.Monitor
	queue   *queue.Queue
	cache   *cache.Manager
	vault   *vault.Vault
	remote  *fakeRemote
	auth    *fakeAuth
	syncer  *Syncer
	clock   *fakeClock
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	return newHarnessWithStore(t, online, store.NewMemory())
}

func newHarnessWithStore(t *testing.T, online bool, s store.Store) *harness {
	t.Helper()

	h := &harness{
		store:  s,
		remote: newFakeRemote(),
		auth:   &fakeAuth{},
		clock:  &fakeClock{t: time.Date(2024, 4, 10, 7, 30, 0, 0, time.UTC)},
	}

	h.monitor = netmon.New(nil, logging.Nop(), netmon.WithRateLimit(0, 0))
	h.monitor.Observe(online)

	q, err := queue.Open(context.Background(), s, logging.Nop(), queue.WithClock(h.clock.now))
	require.NoError(t, err)
	h.queue = q

	h.cache = cache.New(s, time.Hour, logging.Nop(), cache.WithClock(h.clock.now))
	h.vault = vault.New(s)
	h.syncer = NewSyncer(h.monitor, h.queue, h.cache, h.remote, logging.Nop(), WithSyncClock(h.clock.now))
	t.Cleanup(h.syncer.Close)
	return h
}

func row(id string, extra ...string) json.RawMessage {
	name := "x"
	if len(extra) > 0 {
		name = extra[0]
	}
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"name":%q}`, id, name))
}
