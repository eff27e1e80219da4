// Package config loads rosterd configuration from an optional YAML file
// overridden by ROSTERD_* environment variables.
package config
