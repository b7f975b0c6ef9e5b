package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
	"github.com/dmitrijs2005/chatrelay/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations are written as
// strings such as "30s".
type JsonConfig struct {
	Address      *string         `json:"address"`
	DatabaseDSN  *string         `json:"database_dsn"`
	StateDir     *string         `json:"state_dir"`
	ChunkSize    *int            `json:"chunk_size"`
	ReadTimeout  *timex.Duration `json:"read_timeout"`
	WriteTimeout *timex.Duration `json:"write_timeout"`
	HealthAddr   *string         `json:"health_addr"`
	MetricsAddr  *string         `json:"metrics_addr"`
	LogLevel     *string         `json:"log_level"`
}

// parseJson loads configuration values from the JSON file named by the -c
// or -config flag. Keys absent from the file keep their current value, so
// an empty health_addr can still disable the endpoint. An unreadable or
// invalid file panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	set(&config.Address, c.Address)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.StateDir, c.StateDir)
	set(&config.ChunkSize, c.ChunkSize)
	set(&config.HealthAddr, c.HealthAddr)
	set(&config.MetricsAddr, c.MetricsAddr)
	set(&config.LogLevel, c.LogLevel)
	if c.ReadTimeout != nil {
		config.ReadTimeout = c.ReadTimeout.Duration
	}
	if c.WriteTimeout != nil {
		config.WriteTimeout = c.WriteTimeout.Duration
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
