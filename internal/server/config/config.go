// Package config handles configuration for the relay server,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/protocol"
)

// Config holds runtime settings for the relay.
//
// Fields:
//   - Address: bind address of the relay protocol listener.
//   - DatabaseDSN: postgres:// URLs select PostgreSQL (pgx), anything else
//     is a SQLite file path.
//   - StateDir: directory with the TLS certificate and the relay key.
//   - ChunkSize: payload chunk size in bytes (64K, 256K, 512K or 1M).
//   - ReadTimeout / WriteTimeout: per-block I/O deadlines on client sockets.
//   - HealthAddr / MetricsAddr: gRPC health and Prometheus listeners, empty
//     disables them.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	Address      string
	DatabaseDSN  string
	StateDir     string
	ChunkSize    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HealthAddr   string
	MetricsAddr  string
	LogLevel     string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Address = ":5002"
	c.DatabaseDSN = "chatrelay.db"
	c.StateDir = "state"
	c.ChunkSize = int(protocol.DefaultChunkSize)
	c.ReadTimeout = 2 * time.Minute
	c.WriteTimeout = 30 * time.Second
	c.HealthAddr = ":50051"
	c.MetricsAddr = ":2112"
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
