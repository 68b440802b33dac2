// ABOUTME: Package config handles configuration loading for hookline
// ABOUTME: YAML files with env var expansion and duration parsing

// Package config handles configuration loading for hookline.
//
// Configuration is loaded from YAML files with environment variable
// expansion. Values can reference environment variables with the ${VAR}
// syntax, and duration fields accept Go duration strings ("5s", "2m").
//
// Default locations (in order):
//
//  1. Path from HOOKLINE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hookline/hookline.yaml
//  3. ~/.config/hookline/hookline.yaml
package config
