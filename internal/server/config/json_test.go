package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"address":       "www.example:9000",
		"database_dsn":  "relay.db",
		"state_dir":     "/srv/state",
		"chunk_size":    512 << 10,
		"read_timeout":  "1m",
		"write_timeout": "3s",
		"health_addr":   "",
		"log_level":     "warn",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{MetricsAddr: ":2112", HealthAddr: ":50051"}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.Address)
		assert.Equal(t, "relay.db", cfg.DatabaseDSN)
		assert.Equal(t, "/srv/state", cfg.StateDir)
		assert.Equal(t, 512<<10, cfg.ChunkSize)
		assert.Equal(t, 1*time.Minute, cfg.ReadTimeout)
		assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
		assert.Equal(t, "", cfg.HealthAddr, "explicit empty value disables")
		assert.Equal(t, ":2112", cfg.MetricsAddr, "absent key keeps its value")
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("short flag", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", pathFlag}

		cfg := &Config{}
		parseJson(cfg)
		assert.Equal(t, "www.example:9000", cfg.Address)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			Address:     "defaults:1234",
			DatabaseDSN: "relay.db",
			ReadTimeout: 2 * time.Minute,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.Address)
		assert.Equal(t, "relay.db", cfg.DatabaseDSN)
		assert.Equal(t, 2*time.Minute, cfg.ReadTimeout)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
