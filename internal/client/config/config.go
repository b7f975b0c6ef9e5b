package config

import "github.com/dmitrijs2005/chatrelay/internal/protocol"

// Config holds runtime settings for the chat client.
//
// Fields:
//   - ServerAddr: host:port of the relay.
//   - StateDir: pinned relay certificates and the device key database.
//   - ChunkSize: payload chunk size in bytes for outgoing messages.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	ServerAddr string
	StateDir   string
	ChunkSize  int
	LogLevel   string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:5002"
	c.StateDir = ".chatrelay"
	c.ChunkSize = int(protocol.DefaultChunkSize)
	c.LogLevel = "warn"
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
