// Package engine builds the sync engine from configuration and owns the
// lifetime of every component: the local SQLite store, the remote clients,
// the network monitor, the queue, the cache, the vault and the services on
// top of them.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/cache"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/pgstore"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/vault"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
)

type options struct {
	dialOpts []grpc.DialOption
	prober   netmon.Prober
	registry *prometheus.Registry
}

type Option func(*options)

// WithDialOptions adds gRPC dial options for the server connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithProber replaces the gRPC health probe.
func WithProber(p netmon.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithRegistry registers metrics on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

type Engine struct {
	cfg    *config.Config
	logger logging.Logger

	db       *sql.DB
	remoteDB *sql.DB
	rpc      *client.GRPCClient
	registry *prometheus.Registry

	Monitor *netmon.Monitor
	Queue   *queue.Queue
	Cache   *cache.Manager
	Vault   *vault.Vault
	Syncer  *services.Syncer
	Auth    *services.AuthService

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New opens the local database and builds every component. Nothing runs in
// the background until Start.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (_ *Engine, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{cfg: cfg, logger: logging.Module(logger, "engine")}
	defer func() {
		if err != nil {
			_ = e.closeResources()
		}
	}()

	e.db, err = client.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("local database: %w", err)
	}
	local := store.NewSQLiteStore(e.db)

	e.rpc, err = client.NewFieldSyncClient(cfg.ServerEndpointAddr, o.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client: %w", err)
	}

	var remote client.RemoteStore = e.rpc
	if cfg.RemoteDSN != "" {
		e.remoteDB, err = pgstore.Open(ctx, cfg.RemoteDSN)
		if err != nil {
			return nil, fmt.Errorf("remote database: %w", err)
		}
		remote = pgstore.New(e.remoteDB)
		e.logger.Info(ctx, "records go to postgres directly")
	}

	var prober netmon.Prober = e.rpc
	if o.prober != nil {
		prober = o.prober
	}
	e.Monitor = netmon.New(prober, logger, netmon.WithRateLimit(rate.Limit(cfg.ProbeRateLimit), 1))

	e.Queue, err = queue.Open(ctx, local, logger, queue.WithMaxSize(cfg.MaxQueueSize))
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	e.Cache = cache.New(local, cfg.CacheTTL, logger)
	e.Vault = vault.New(local)

	e.registry = o.registry
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	metrics, err := obs.NewMetrics(e.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	e.Syncer = services.NewSyncer(e.Monitor, e.Queue, e.Cache, remote, logger, services.WithSyncMetrics(metrics))
	e.Auth = services.NewAuthService(e.rpc, e.Vault, e.Monitor, e.Syncer, e.Cache, e.Queue, logger)

	return e, nil
}

// Registry is the registry engine metrics are registered on.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Start launches the connectivity loop, subscribes the syncer to
// reconnects and serves metrics when an address is configured. It is a
// no-op after the first call.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)

	e.Syncer.Start(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Monitor.Run(ctx, e.cfg.OnlineCheckInterval)
	}()

	if e.cfg.MetricsAddr != "" {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := obs.Serve(ctx, e.cfg.MetricsAddr, e.registry, e.logger); err != nil {
				e.logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	e.logger.Info(ctx, "engine started", "server", e.cfg.ServerEndpointAddr, "pending", e.Queue.Count())
}

// Close stops background work and releases connections. Queued writes stay
// in the local database for the next run.
func (e *Engine) Close() error {
	e.Auth.Close()
	e.Syncer.Close()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()

	return e.closeResources()
}

func (e *Engine) closeResources() error {
	var errs []error
	if e.rpc != nil {
		errs = append(errs, e.rpc.Close())
	}
	if e.remoteDB != nil {
		errs = append(errs, e.remoteDB.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}
