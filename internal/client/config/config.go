package config

import "time"

// Config holds runtime settings for the fidolock CLI.
//
// Fields:
//   - StateDir: directory for local state (enrollment inventory DB, escrow
//     session, software token file).
//   - EscrowEndpointAddr: base URL of the escrow service HTTP API.
//   - DeviceTimeout: how long a single security-key operation may take
//     before the attempt is cancelled.
//   - SoftTokenPath: when set, FIDO2 operations use the file-backed software
//     token at this path instead of a USB authenticator.
type Config struct {
	StateDir           string
	EscrowEndpointAddr string
	SoftTokenPath      string
	DeviceTimeout      time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.StateDir = "/var/lib/fidolock"
	c.EscrowEndpointAddr = "http://127.0.0.1:8080"
	c.SoftTokenPath = ""
	c.DeviceTimeout = 30 * time.Second
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

// GlobalFlags lists the flags consumed by the config layer. Subcommand
// parsers strip them from the command line before parsing their own flags.
func GlobalFlags() []string {
	return []string{"-c", "-config", "-a", "-d", "-t", "-k"}
}
