// Package config loads the load generator configuration from command-line
// flags, LOADGEN_* environment variables and an optional YAML file, in that
// order of precedence.
package config
