// Package config handles configuration for the development server,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the fieldsync development server.
//
// Fields:
//   - EndpointAddrGRPC: bind address for the gRPC endpoint.
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use the default outside development.
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration: token lifetimes.
//   - SeedUserEmail / SeedUserPassword / SeedUserRole: the account created at start.
//   - DatabaseDSN: optional PostgreSQL DSN; empty keeps everything in memory.
type Config struct {
	EndpointAddrGRPC             string
	SecretKey                    string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	SeedUserEmail                string
	SeedUserPassword             string
	SeedUserRole                 string
	DatabaseDSN                  string
	LogLevel                     string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 30 * 24 * time.Hour
	c.SeedUserEmail = "farmer@example.com"
	c.SeedUserPassword = "farmer"
	c.SeedUserRole = "technician"
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
