// Package clock abstracts wall-clock time so the outbox scheduler, chunk
// rotation, and status poller can be driven by a fake in tests instead of
// real waits.
package clock

import "time"

// Clock provides the time operations reel's timer-driven components use.
type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
	// NewTicker behaves like time.NewTicker.
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker behind an interface so fakes can implement it.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// New returns a Clock backed by the real wall clock.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) Chan() <-chan time.Time { return t.ticker.C }

func (t *realTicker) Stop() { t.ticker.Stop() }
