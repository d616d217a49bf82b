package engine

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/records"
	"github.com/dmitrijs2005/fieldsync/internal/server/refreshtokens"
	"github.com/dmitrijs2005/fieldsync/internal/server/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	serverconfig "github.com/dmitrijs2005/fieldsync/internal/server/config"
	gs "github.com/dmitrijs2005/fieldsync/internal/server/grpc"
)

const (
	email    = "farmer@example.com"
	password = "pw"
)

// startServer runs the development server on an in-memory listener and
// returns the dial option reaching it plus its record service.
func startServer(t *testing.T) (grpc.DialOption, *records.Service) {
	t.Helper()

	cfg := &serverconfig.Config{}
	cfg.LoadDefaults()

	us := users.NewService(users.NewMemoryRepository(), refreshtokens.NewMemoryRepository(), cfg)
	_, err := us.Register(context.Background(), email, password, "technician")
	require.NoError(t, err)
	rs := records.NewService(records.NewMemoryRepository())

	s, err := gs.NewGRPCServer("bufnet", logging.Nop(), us, rs, cfg.SecretKey)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}), rs
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ServerEndpointAddr = "passthrough:///bufnet"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "fieldsync.db")
	cfg.OnlineCheckInterval = 20 * time.Millisecond
	cfg.ProbeRateLimit = 0
	return cfg
}

type switchProber struct{ online atomic.Bool }

func newSwitchProber(online bool) *switchProber {
	p := &switchProber{}
	p.online.Store(online)
	return p
}

func (p *switchProber) Probe(context.Context) (bool, error) { return p.online.Load(), nil }

func waitOnline(t *testing.T, m *netmon.Monitor, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Current().Online == want }, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_OfflineWritesReachServerAfterReconnect(t *testing.T) {
	dial, rs := startServer(t)
	prober := newSwitchProber(true)

	e, err := New(context.Background(), testConfig(t), logging.Nop(), WithDialOptions(dial), WithProber(prober))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx := context.Background()
	e.Start(ctx)

	s, err := e.Auth.SignIn(ctx, email, password)
	require.NoError(t, err)
	assert.False(t, s.Offline)

	prober.online.Store(false)
	waitOnline(t, e.Monitor, false)

	res, err := e.Syncer.Write(ctx, "cycles", models.OpInsert, json.RawMessage(`{"id":"c1","name":"Cycle A"}`))
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeQueued, res.Outcome)
	assert.Equal(t, 1, e.Queue.Count())

	prober.online.Store(true)
	require.Eventually(t, func() bool { return e.Queue.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	data, err := rs.Fetch(ctx, "cycles/c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","name":"Cycle A"}`, string(data))

	read, err := e.Syncer.Read(ctx, "cycles")
	require.NoError(t, err)
	assert.Equal(t, services.SourceRemote, read.Source)
	assert.JSONEq(t, `[{"id":"c1","name":"Cycle A"}]`, string(read.Data))
}

func TestEngine_OfflineSignInAfterOnlineSession(t *testing.T) {
	dial, _ := startServer(t)
	prober := newSwitchProber(true)
	cfg := testConfig(t)
	ctx := context.Background()

	e, err := New(ctx, cfg, logging.Nop(), WithDialOptions(dial), WithProber(prober))
	require.NoError(t, err)
	_, err = e.Auth.SignIn(ctx, email, password)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	prober.online.Store(false)
	e, err = New(ctx, cfg, logging.Nop(), WithDialOptions(dial), WithProber(prober))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	s, err := e.Auth.Start(ctx)
	require.NoError(t, err)
	assert.True(t, s.Offline)
	assert.Equal(t, email, s.Email)
}

func TestEngine_QueueSurvivesRestart(t *testing.T) {
	dial, _ := startServer(t)
	prober := newSwitchProber(false)
	cfg := testConfig(t)
	ctx := context.Background()

	e, err := New(ctx, cfg, logging.Nop(), WithDialOptions(dial), WithProber(prober))
	require.NoError(t, err)
	e.Monitor.Observe(false)

	_, err = e.Syncer.Write(ctx, "cycles", models.OpInsert, json.RawMessage(`{"id":"c1"}`))
	require.NoError(t, err)
	_, err = e.Syncer.Write(ctx, "cycles", models.OpInsert, json.RawMessage(`{"id":"c2"}`))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = New(ctx, cfg, logging.Nop(), WithDialOptions(dial), WithProber(prober))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	pending := e.Syncer.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "c1", pending[0].RecordID())
	assert.Equal(t, "c2", pending[1].RecordID())
}

func TestEngine_MetricsOnSuppliedRegistry(t *testing.T) {
	dial, _ := startServer(t)
	reg := prometheus.NewRegistry()

	e, err := New(context.Background(), testConfig(t), logging.Nop(),
		WithDialOptions(dial), WithProber(newSwitchProber(true)), WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Same(t, reg, e.Registry())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fieldsync_pending_mutations"])
	assert.True(t, names["fieldsync_online"])
}

func TestEngine_UsesHealthProbeByDefault(t *testing.T) {
	dial, _ := startServer(t)

	e, err := New(context.Background(), testConfig(t), logging.Nop(), WithDialOptions(dial))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.True(t, e.Monitor.Refresh(context.Background()).Online)
}

func TestEngine_StartIsIdempotentAndCloseStops(t *testing.T) {
	dial, _ := startServer(t)

	e, err := New(context.Background(), testConfig(t), logging.Nop(), WithDialOptions(dial), WithProber(newSwitchProber(true)))
	require.NoError(t, err)

	e.Start(context.Background())
	e.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}
}

func TestNew_BadDatabasePath(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, writeFile(blocker))
	cfg.DatabasePath = filepath.Join(blocker, "sub", "fieldsync.db")

	_, err := New(context.Background(), cfg, logging.Nop())
	require.Error(t, err)
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o600)
}
