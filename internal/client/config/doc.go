// Package config loads runtime configuration for the fidolock CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the escrow service HTTP API
//	-d string   local state directory
//	-t int      security-key operation timeout (seconds)
//	-k string   software token file (instead of a USB authenticator)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "30s" or integer nanoseconds:
//
//	{
//	  "state_dir": "/var/lib/fidolock",
//	  "escrow_endpoint_addr": "http://127.0.0.1:8080",
//	  "device_timeout": "30s",
//	  "soft_token_path": ""
//	}
//
// Note: This package does not read environment variables; the only
// environment integration in the CLI is FIDOLOCK_PIN for non-interactive
// PIN entry, handled by the prompting layer.
package config
