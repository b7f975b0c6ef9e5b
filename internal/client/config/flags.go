package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the relay
//	-s string   state directory
//	-k int      chunk size in bytes
//	-l string   log level
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-s", "-k", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerAddr, "a", cfg.ServerAddr, "address and port of the relay")
	fs.StringVar(&cfg.StateDir, "s", cfg.StateDir, "state directory")
	fs.IntVar(&cfg.ChunkSize, "k", cfg.ChunkSize, "chunk size in bytes")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
