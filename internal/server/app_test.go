package server

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	"github.com/dmitrijs2005/fieldsync/internal/server/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	return c
}

func TestNewApp_RegistersSeedUser(t *testing.T) {
	app, err := newApp(testConfig(), logging.Nop(), repomanager.NewMemoryManager())
	require.NoError(t, err)

	pair, err := app.userService.Login(context.Background(), "farmer@example.com", "farmer")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestNewApp_WithoutSeedUser(t *testing.T) {
	c := testConfig()
	c.SeedUserEmail = ""

	app, err := newApp(c, logging.Nop(), repomanager.NewMemoryManager())
	require.NoError(t, err)

	_, err = app.userService.Login(context.Background(), "farmer@example.com", "farmer")
	require.Error(t, err)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := newApp(testConfig(), logging.Nop(), repomanager.NewMemoryManager())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_RunFailsOnBadAddress(t *testing.T) {
	c := testConfig()
	c.EndpointAddrGRPC = "127.0.0.1:99999"

	app, err := newApp(c, logging.Nop(), repomanager.NewMemoryManager())
	require.NoError(t, err)

	require.Error(t, app.Run(context.Background()))
}

func TestNewApp_SeedUserAlreadyPresent(t *testing.T) {
	repos := repomanager.NewMemoryManager()

	_, err := newApp(testConfig(), logging.Nop(), repos)
	require.NoError(t, err)

	app, err := newApp(testConfig(), logging.Nop(), repos)
	require.NoError(t, err)

	_, err = app.userService.Login(context.Background(), "farmer@example.com", "farmer")
	require.NoError(t, err)
}

func TestNewApp_MemoryBackendByDefault(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig())
	require.NoError(t, err)
	assert.IsType(t, &repomanager.MemoryManager{}, app.repos)
}

func TestNewApp_BadDatabaseDSN(t *testing.T) {
	c := testConfig()
	c.DatabaseDSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	_, err := NewApp(context.Background(), c)
	require.Error(t, err)
}
