package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
)

type fakeAuth struct {
	current    *models.Session
	startOut   *models.Session
	startErr   error
	signInOut  *models.Session
	signInErr  error
	signOutErr error

	gotEmail, gotPassword string
	signInCalls           int
	signOutCalls          int
}

func (f *fakeAuth) Start(context.Context) (*models.Session, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.current = f.startOut
	return f.startOut, nil
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (*models.Session, error) {
	f.signInCalls++
	f.gotEmail, f.gotPassword = email, password
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	f.current = f.signInOut
	return f.signInOut, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.signOutCalls++
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.current = nil
	return nil
}

func (f *fakeAuth) Current() *models.Session { return f.current }

type write struct {
	target  string
	op      models.Operation
	payload json.RawMessage
}

type fakeSync struct {
	mu sync.Mutex

	writes   []write
	writeOut services.WriteResult
	writeErr error

	readQuery string
	readOut   services.ReadResult
	readErr   error

	drainOut services.DrainResult
	drainErr error

	pending   []*models.Mutation
	state     services.SyncState
	retried   []string
	discarded []string
	retryErr  error
}

func (f *fakeSync) Write(_ context.Context, target string, op models.Operation, payload json.RawMessage) (services.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{target, op, payload})
	return f.writeOut, f.writeErr
}

func (f *fakeSync) Read(_ context.Context, query string) (services.ReadResult, error) {
	f.readQuery = query
	return f.readOut, f.readErr
}

func (f *fakeSync) Drain(context.Context) (services.DrainResult, error) { return f.drainOut, f.drainErr }
func (f *fakeSync) Pending() []*models.Mutation                        { return f.pending }
func (f *fakeSync) PendingCount() int                                  { return len(f.pending) }
func (f *fakeSync) State() services.SyncState                          { return f.state }

func (f *fakeSync) Retry(_ context.Context, id string) error {
	f.retried = append(f.retried, id)
	return f.retryErr
}

func (f *fakeSync) Discard(_ context.Context, id string) error {
	f.discarded = append(f.discarded, id)
	return nil
}

type fakeNetwork struct{ online bool }

func (f *fakeNetwork) Current() netmon.State { return netmon.State{Online: f.online} }

func readerFromLines(lines ...string) *bufio.Reader {
	if len(lines) == 0 || lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	return bufio.NewReader(strings.NewReader(strings.Join(lines, "\n")))
}

func newTestApp(auth *fakeAuth, syncer *fakeSync, r *bufio.Reader) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	if r == nil {
		r = readerFromLines()
	}
	return &App{
		auth:    auth,
		syncer:  syncer,
		network: &fakeNetwork{online: true},
		reader:  r,
		out:     out,
	}, out
}
