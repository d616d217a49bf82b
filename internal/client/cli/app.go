package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/engine"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type authService interface {
	Start(ctx context.Context) (*models.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	Current() *models.Session
}

type syncService interface {
	Write(ctx context.Context, target string, op models.Operation, payload json.RawMessage) (services.WriteResult, error)
	Read(ctx context.Context, query string) (services.ReadResult, error)
	Drain(ctx context.Context) (services.DrainResult, error)
	Pending() []*models.Mutation
	PendingCount() int
	Retry(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
	State() services.SyncState
}

type networkStatus interface {
	Current() netmon.State
}

type App struct {
	engine  *engine.Engine
	auth    authService
	syncer  syncService
	network networkStatus
	reader  *bufio.Reader

	outMu sync.Mutex
	out   io.Writer
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	e, err := engine.New(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		engine:  e,
		auth:    e.Auth,
		syncer:  e.Syncer,
		network: e.Monitor,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}, nil
}

// printf writes one line to the console. Notifications arrive from
// background goroutines, so output is serialized.
func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format+"\n", args...)
}

// Run starts the engine, restores or asks for a session and runs the REPL
// until the user exits. The engine is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.engine.Close(); err != nil {
			a.printf("error: %v", err)
		}
	}()

	a.engine.Start(ctx)
	unsubscribe := a.watch()
	defer unsubscribe()

	a.printf("Welcome to fieldsync (type 'help' for commands)")
	a.restoreSession(ctx)

	runREPL(ctx, a, a.getStatus, a.reader, a)
	return nil
}

// watch prints network transitions and pending-count changes.
func (a *App) watch() func() {
	unsubNet := a.engine.Monitor.Subscribe(func(st netmon.State) {
		a.printf("[network] %s", onlineLabel(st.Online))
	})
	unsubQueue := a.engine.Queue.Subscribe(func(n int) {
		a.printf("[sync] %d pending", n)
	})
	return func() {
		unsubNet()
		unsubQueue()
	}
}

// Write makes App usable as the REPL's output.
func (a *App) Write(p []byte) (int, error) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	return a.out.Write(p)
}

func (a *App) isLoggedIn() bool {
	return a.auth.Current() != nil
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func (a *App) getStatus() string {
	s := onlineLabel(a.network.Current().Online)
	if cur := a.auth.Current(); cur != nil {
		s = cur.Email + " " + s
		if cur.Offline {
			s += " (offline mode)"
		}
	}
	if n := a.syncer.PendingCount(); n > 0 {
		s = fmt.Sprintf("%s, %d pending", s, n)
	}
	return s
}
