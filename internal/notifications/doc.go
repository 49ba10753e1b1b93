// Package notifications delivers session milestones via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Individual categories (completion, delivery warnings, errors)
// can be toggled independently.
package notifications
