// Package session owns the session lifecycle state machine. All session
// writes in the process flow through one Machine, which persists every
// mutation before publishing a snapshot to observers.
package session
