package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
//	-a string    address and port of the server
//	-i int       online check interval in seconds
//	-d string    local database path
//	-r string    PostgreSQL DSN of the remote store
//	-t int       cache TTL in hours
//	-q int       maximum number of pending writes (0 = unbounded)
//	-p float     forced connectivity probes per second
//	-m string    metrics listen address
//	-l string    log level (debug, info, warn, error)
//	-log-json    log as JSON
//
// os.Args is filtered with flagx.FilterArgs so flags owned by other
// components do not break parsing.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-d", "-r", "-t", "-q", "-p", "-m", "-l", "-log-json"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.RemoteDSN, "r", cfg.RemoteDSN, "PostgreSQL DSN of the remote store")
	cacheTTL := fs.Int("t", int(cfg.CacheTTL.Hours()), "cache TTL (in hours)")
	fs.IntVar(&cfg.MaxQueueSize, "q", cfg.MaxQueueSize, "maximum pending writes, 0 for unbounded")
	fs.Float64Var(&cfg.ProbeRateLimit, "p", cfg.ProbeRateLimit, "forced probes per second")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as JSON")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.CacheTTL = time.Duration(*cacheTTL) * time.Hour
}
