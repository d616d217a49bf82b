// Package server wires the development server: user and record stores (in
// memory, or PostgreSQL when a DSN is configured), the seed account and the
// gRPC endpoint, with graceful shutdown on SIGINT, SIGTERM or SIGQUIT.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	"github.com/dmitrijs2005/fieldsync/internal/server/records"
	"github.com/dmitrijs2005/fieldsync/internal/server/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/server/users"

	gs "github.com/dmitrijs2005/fieldsync/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	repos         repomanager.Manager
	userService   *users.Service
	recordService *records.Service
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, c.LogLevel, true)

	var repos repomanager.Manager = repomanager.NewMemoryManager()
	if c.DatabaseDSN != "" {
		pm, err := repomanager.NewPostgresManager(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		repos = pm
	}

	app, err := newApp(c, logger, repos)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}
	return app, nil
}

func newApp(c *config.Config, logger logging.Logger, repos repomanager.Manager) (*App, error) {
	us := users.NewService(repos.Users(), repos.RefreshTokens(), c)
	rs := records.NewService(repos.Records())

	if c.SeedUserEmail != "" {
		u, err := us.Register(context.Background(), c.SeedUserEmail, c.SeedUserPassword, c.SeedUserRole)
		switch {
		case errors.Is(err, users.ErrAlreadyExists):
			logger.Info(context.Background(), "seed user already present", "email", c.SeedUserEmail)
		case err != nil:
			return nil, fmt.Errorf("seed user: %w", err)
		default:
			logger.Info(context.Background(), "seed user registered", "email", u.Email, "role", u.Role)
		}
	}

	return &App{config: c, logger: logger, repos: repos, userService: us, recordService: rs}, nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.userService, app.recordService, app.config.SecretKey)
	if err != nil {
		cancelFunc()
		return err
	}

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return err
	}
	return nil
}

// Run serves until ctx is cancelled or a shutdown signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(ctx, cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()
	if err := app.repos.Close(); err != nil {
		app.logger.Error(context.Background(), "closing storage", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
	return runErr
}
