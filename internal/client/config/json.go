package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// Durations are timex.Duration so the file can say "3s" or give integer
// nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	DatabasePath        string         `json:"database_path"`
	RemoteDSN           string         `json:"remote_dsn"`
	CacheTTL            timex.Duration `json:"cache_ttl"`
	MaxQueueSize        *int           `json:"max_queue_size"`
	ProbeRateLimit      *float64       `json:"probe_rate_limit"`
	MetricsAddr         string         `json:"metrics_addr"`
	LogLevel            string         `json:"log_level"`
	LogJSON             *bool          `json:"log_json"`
}

// parseJson overlays Config with the values present in the JSON file named
// by -c or -config. Absent keys keep their current value. It panics on read
// or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.RemoteDSN, jc.RemoteDSN)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.LogLevel, jc.LogLevel)

	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.CacheTTL.Duration > 0 {
		cfg.CacheTTL = jc.CacheTTL.Duration
	}
	if jc.MaxQueueSize != nil {
		cfg.MaxQueueSize = *jc.MaxQueueSize
	}
	if jc.ProbeRateLimit != nil {
		cfg.ProbeRateLimit = *jc.ProbeRateLimit
	}
	if jc.LogJSON != nil {
		cfg.LogJSON = *jc.LogJSON
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
