// Package config provides the configuration of the MCP HTTP bridge.
//
// Options are assembled from, in increasing order of precedence: built-in
// defaults, an optional YAML file (--config), environment variables, and
// command line flags.
package config
