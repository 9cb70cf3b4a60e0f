// Package config loads the CLI's YAML configuration with strict key
// checking, layered under command-line flags.
package config
