// Package config loads, normalizes, and validates danmu configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// JELLYFIN_API_KEY. The Config type centralizes every knob the daemon and CLI
// need: library backend, queue windows, matching thresholds, provider order
// and payload handling.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
