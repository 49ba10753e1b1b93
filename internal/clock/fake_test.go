package clock_test

import (
	"testing"
	"time"

	"reel/internal/clock"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	ch := fake.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before Advance")
	default:
	}

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	fake.Advance(2 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("expected fire at deadline, got %v", fired)
		}
	default:
		t.Fatal("waiter did not fire after deadline passed")
	}
	if got := fake.Now(); !got.Equal(start.Add(6 * time.Second)) {
		t.Fatalf("expected clock at +6s, got %v", got)
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	fired := 0
	for i := 0; i < 3; i++ {
		fake.Advance(time.Second)
		select {
		case <-ticker.Chan():
			fired++
		default:
		}
	}
	if fired != 3 {
		t.Fatalf("expected 3 ticks, got %d", fired)
	}

	ticker.Stop()
	fake.Advance(time.Second)
	select {
	case <-ticker.Chan():
		t.Fatal("stopped ticker must not fire")
	default:
	}
}

func TestBlockUntilReturnsOnceWaiterRegistered(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		fake.BlockUntil(1)
		close(done)
	}()

	fake.After(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BlockUntil did not observe registered waiter")
	}
}
