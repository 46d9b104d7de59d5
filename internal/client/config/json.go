package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/flagx"
	"github.com/dmitrijs2005/fidolock/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	StateDir           string         `json:"state_dir"`
	EscrowEndpointAddr string         `json:"escrow_endpoint_addr"`
	SoftTokenPath      string         `json:"soft_token_path"`
	DeviceTimeout      timex.Duration `json:"device_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The file path comes from the -c or -config flags via
// flagx.JsonConfigFlags(); when neither is set, nothing is loaded. Read or
// unmarshal errors panic (caller should recover if desired). Empty fields in
// the file leave the corresponding Config values untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.StateDir != "" {
		cfg.StateDir = jc.StateDir
	}
	if jc.EscrowEndpointAddr != "" {
		cfg.EscrowEndpointAddr = jc.EscrowEndpointAddr
	}
	if jc.SoftTokenPath != "" {
		cfg.SoftTokenPath = jc.SoftTokenPath
	}
	if jc.DeviceTimeout.Duration != 0 {
		cfg.DeviceTimeout = time.Duration(jc.DeviceTimeout.Duration)
	}
}
