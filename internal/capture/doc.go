// Package capture records audio from a pluggable source and cuts it into
// fixed-length WAV segments for delivery.
package capture
