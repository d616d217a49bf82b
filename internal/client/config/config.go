package config

import "time"

// Config holds runtime settings for the fieldsync console.
//
// Fields:
//   - ServerEndpointAddr: host:port of the gRPC server (records and auth).
//   - OnlineCheckInterval: how often reachability is probed.
//   - DatabasePath: SQLite file of the local store.
//   - RemoteDSN: optional PostgreSQL DSN; when set, records go straight to
//     PostgreSQL and the gRPC server is used for auth and probing only.
//   - CacheTTL: how long a cached read may be served offline.
//   - MaxQueueSize: bound on pending writes, 0 means unbounded.
//   - ProbeRateLimit: forced probes per second.
//   - MetricsAddr: listen address of the /metrics endpoint, empty disables it.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	DatabasePath        string
	RemoteDSN           string
	CacheTTL            time.Duration
	MaxQueueSize        int
	ProbeRateLimit      float64
	MetricsAddr         string
	LogLevel            string
	LogJSON             bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.DatabasePath = "fieldsync.db"
	c.CacheTTL = 24 * time.Hour
	c.MaxQueueSize = 0
	c.ProbeRateLimit = 1
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
