// Package daemon hosts the long-running reel process: it owns the capture
// producer, the delivery outbox, the session state machine and the status
// poller, exposes the local HTTP API the CLI talks to, and enforces
// single-instance execution through a lock file.
package daemon
