// Package config loads runtime configuration for the chat client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the relay
//	-s string   state directory (pinned certificates, device keys)
//	-k int      chunk size in bytes
//	-l string   log level
//
// # JSON schema
//
//	{
//	  "server_addr": "127.0.0.1:5002",
//	  "state_dir": ".chatrelay",
//	  "chunk_size": 262144,
//	  "log_level": "warn"
//	}
package config
