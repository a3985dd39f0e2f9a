// Package config loads, normalizes, and validates camlapse configuration.
//
// It resolves the TOML file (default ~/.config/camlapse/config.toml, then
// ./camlapse.toml), applies repository defaults, expands user paths, derives
// the working directory layout (frames, chunks, final video, lock file), and
// validates capture, encoding, and upload settings so the pipeline can assume
// a complete configuration value.
package config
