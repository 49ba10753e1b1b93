// Package poller watches sessions in the processing state and turns the
// service's open-ended asynchronous pipeline into a bounded local wait.
package poller
