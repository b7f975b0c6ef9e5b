package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     relay bind address (e.g., ":5002")
//	-d string     database DSN
//	-s string     state directory
//	-k int        chunk size in bytes
//	-r duration   read timeout (e.g., "2m")
//	-w duration   write timeout
//	-g string     gRPC health address, empty disables
//	-m string     metrics address, empty disables
//	-l string     log level
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-r", "-w", "-g", "-m", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Address, "a", config.Address, "address and port to run relay")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StateDir, "s", config.StateDir, "state directory")
	fs.IntVar(&config.ChunkSize, "k", config.ChunkSize, "chunk size in bytes")
	fs.DurationVar(&config.ReadTimeout, "r", config.ReadTimeout, "read timeout")
	fs.DurationVar(&config.WriteTimeout, "w", config.WriteTimeout, "write timeout")
	fs.StringVar(&config.HealthAddr, "g", config.HealthAddr, "gRPC health address")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
