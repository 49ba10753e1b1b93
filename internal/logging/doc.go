// Package logging assembles structured slog loggers and attribute helpers used
// across reel components.
//
// It owns the console/JSON handler setup, centralizes level and output
// plumbing, and exposes typed attribute constructors plus standardized field
// keys so the capture, queue, and poller components tag log lines the same
// way. The package also provides a no-op logger for tests and wiring code
// that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits data with the same shape and routing.
package logging
