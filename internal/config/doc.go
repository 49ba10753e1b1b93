// Package config loads, normalizes, and validates reel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files from ~/.config/reel/config.toml or a
// project-local reel.toml. The Config type centralizes every knob the daemon
// and CLI need: capture cadence, delivery retry budgets, polling limits, and
// the processing service endpoint.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
