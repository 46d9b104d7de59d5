package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the escrow service HTTP API
//	-d string   local state directory
//	-t int      security-key operation timeout in seconds
//	-k string   software token file
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with subcommand
// parsers.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-t", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.EscrowEndpointAddr, "a", cfg.EscrowEndpointAddr, "escrow service base URL")
	fs.StringVar(&cfg.StateDir, "d", cfg.StateDir, "local state directory")
	deviceTimeout := fs.Int("t", int(cfg.DeviceTimeout.Seconds()), "security-key operation timeout (in seconds)")
	fs.StringVar(&cfg.SoftTokenPath, "k", cfg.SoftTokenPath, "software token file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.DeviceTimeout = time.Duration(*deviceTimeout) * time.Second
}
