// Package api defines the wire types shared by the daemon HTTP API and the
// CLI client, plus converters from the storage layer's domain types.
package api
