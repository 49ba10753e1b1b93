// Package main hosts the reel CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the reeld daemon: starting and stopping capture, listing
// sessions, fetching transcripts, retrying failed processing, and
// configuration scaffolding. Subcommands stay thin; session, delivery, and
// polling logic lives in the internal packages behind the daemon API.
package main
