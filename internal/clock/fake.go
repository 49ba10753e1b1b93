package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Advance moves time forward and
// fires any waiters whose deadlines have passed; BlockUntil lets a test wait
// for a component to reach its next timer before advancing.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	blocked []chan struct{}
}

type fakeWaiter struct {
	deadline time.Time
	interval time.Duration // zero for one-shot waiters
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake clock pinned to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot waiter that fires once Advance crosses d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.addWaiter(w)
	return w.ch
}

// NewTicker registers a repeating waiter firing every d of advanced time.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.now.Add(d), interval: d, ch: make(chan time.Time, 1)}
	f.addWaiter(w)
	return &fakeTicker{clock: f, waiter: w}
}

// Advance moves the fake clock forward, firing due waiters in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	for {
		next := f.earliestDue(target)
		if next == nil {
			break
		}
		f.now = next.deadline
		select {
		case next.ch <- f.now:
		default:
		}
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.stopped = true
		}
		f.compact()
	}
	f.now = target
}

// BlockUntil waits until at least n waiters are registered, so tests can
// synchronize with a component that is about to sleep.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	if f.activeWaiters() >= n {
		f.mu.Unlock()
		return
	}
	ready := make(chan struct{})
	target := n
	f.blocked = append(f.blocked, ready)
	go func() {
		for {
			f.mu.Lock()
			if f.activeWaiters() >= target {
				select {
				case <-ready:
				default:
					close(ready)
				}
				f.mu.Unlock()
				return
			}
			f.mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()
	f.mu.Unlock()
	<-ready
}

func (f *Fake) addWaiter(w *fakeWaiter) {
	f.waiters = append(f.waiters, w)
}

func (f *Fake) activeWaiters() int {
	count := 0
	for _, w := range f.waiters {
		if !w.stopped {
			count++
		}
	}
	return count
}

func (f *Fake) earliestDue(limit time.Time) *fakeWaiter {
	var due *fakeWaiter
	for _, w := range f.waiters {
		if w.stopped || w.deadline.After(limit) {
			continue
		}
		if due == nil || w.deadline.Before(due.deadline) {
			due = w
		}
	}
	return due
}

func (f *Fake) compact() {
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.stopped {
			kept = append(kept, w)
		}
	}
	f.waiters = kept
}

type fakeTicker struct {
	clock  *Fake
	waiter *fakeWaiter
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.waiter.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = true
	t.clock.compact()
}
