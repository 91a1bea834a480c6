// Package config handles configuration loading for relayhub.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the RELAYHUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relayhub/config.yaml (~/.config when unset)
//
// Files ending in .toml are parsed as TOML, everything else as YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RELAYHUB_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  liveness_timeout: "120s"
//	  sweep_interval: "60s"
//
// The sweep interval must be shorter than the liveness timeout.
package config
