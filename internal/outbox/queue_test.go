package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"reel/internal/clock"
	"reel/internal/config"
	"reel/internal/faults"
	"reel/internal/logging"
	"reel/internal/session"
	"reel/internal/store"
	"reel/internal/testsupport"
)

type fakeUploader struct {
	mu       sync.Mutex
	attempts map[int]int
	fail     func(chunkIndex, attempt int) error
}

func newFakeUploader(fail func(chunkIndex, attempt int) error) *fakeUploader {
	return &fakeUploader{attempts: make(map[int]int), fail: fail}
}

func (f *fakeUploader) UploadChunk(_ context.Context, _ string, chunkIndex int, _ string) error {
	f.mu.Lock()
	f.attempts[chunkIndex]++
	attempt := f.attempts[chunkIndex]
	f.mu.Unlock()
	if f.fail == nil {
		return nil
	}
	return f.fail(chunkIndex, attempt)
}

func (f *fakeUploader) attemptCount(chunkIndex int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[chunkIndex]
}

type fakeNotifier struct {
	mu        sync.Mutex
	abandoned []int
}

func (f *fakeNotifier) ChunkAbandoned(_ context.Context, _ string, chunkIndex int, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, chunkIndex)
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	machine  *session.Machine
	clock    *clock.Fake
	uploader *fakeUploader
	notifier *fakeNotifier
	queue    *Queue
}

func newFixture(t *testing.T, fail func(chunkIndex, attempt int) error) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(5))
	st := testsupport.MustOpenStore(t, cfg)
	machine := session.NewMachine(st, logging.NewNop())
	fc := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	uploader := newFakeUploader(fail)
	notifier := &fakeNotifier{}
	queue := NewQueue(st, machine, uploader, notifier, fc, cfg, logging.NewNop())
	return &fixture{cfg: cfg, store: st, machine: machine, clock: fc, uploader: uploader, notifier: notifier, queue: queue}
}

func (f *fixture) createSession(t *testing.T, id string) {
	t.Helper()
	if _, err := f.machine.Create(context.Background(), id, "meeting", f.clock.Now()); err != nil {
		t.Fatalf("creating session failed: %v", err)
	}
}

func (f *fixture) enqueue(t *testing.T, sessionID string, chunkIndex int) {
	t.Helper()
	path := fmt.Sprintf("/tmp/%s/chunk_%03d.wav", sessionID, chunkIndex)
	if err := f.queue.Enqueue(context.Background(), sessionID, chunkIndex, path, f.clock.Now()); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.createSession(t, "s1")
	ctx := context.Background()

	f.enqueue(t, "s1", 0)
	f.enqueue(t, "s1", 0)

	tasks, err := f.store.TasksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("TasksBySession failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after duplicate enqueue, got %d", len(tasks))
	}
	if tasks[0].ID != TaskID("s1", 0) {
		t.Fatalf("task id not deterministic: %s", tasks[0].ID)
	}
}

func TestDeliverySuccessRemovesTaskAndCountsChunk(t *testing.T) {
	f := newFixture(t, nil)
	f.createSession(t, "s1")
	ctx := context.Background()

	f.enqueue(t, "s1", 0)
	attempts, err := f.queue.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	tasks, err := f.store.TasksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("TasksBySession failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("delivered task not removed: %d left", len(tasks))
	}
	s, err := f.machine.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.DeliveredChunks != 1 {
		t.Fatalf("expected 1 delivered chunk, got %d", s.DeliveredChunks)
	}
}

func TestTransientFailuresBackOffThenAbandon(t *testing.T) {
	// Chunks 0 and 1 deliver; chunk 2 fails transiently forever.
	f := newFixture(t, func(chunkIndex, attempt int) error {
		if chunkIndex == 2 {
			return fmt.Errorf("%w: connection reset", faults.ErrTransientDelivery)
		}
		return nil
	})
	f.createSession(t, "s1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.enqueue(t, "s1", i)
	}

	// First pass: two deliveries, one failure scheduled for retry.
	if _, err := f.queue.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}

	// The failed chunk is not due again until its backoff deadline.
	if attempts, _ := f.queue.ProcessOnce(ctx); attempts != 0 {
		t.Fatalf("task retried before its backoff deadline, attempts=%d", attempts)
	}

	// Walk through the remaining four attempts: deadlines at 2s, 4s, 8s,
	// 16s after each failure.
	for attempt := 2; attempt <= 5; attempt++ {
		f.clock.Advance(20 * time.Second)
		if _, err := f.queue.ProcessOnce(ctx); err != nil {
			t.Fatalf("ProcessOnce (attempt %d) failed: %v", attempt, err)
		}
	}

	if got := f.uploader.attemptCount(2); got != 5 {
		t.Fatalf("expected 5 attempts on chunk 2, got %d", got)
	}

	tasks, err := f.store.TasksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("TasksBySession failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].State != store.TaskAbandoned {
		t.Fatalf("expected one abandoned task, got %+v", tasks)
	}

	s, err := f.machine.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.DeliveredChunks != 2 || s.AbandonedChunks != 1 {
		t.Fatalf("unexpected counters: delivered=%d abandoned=%d", s.DeliveredChunks, s.AbandonedChunks)
	}
	if s.LastErrorKind != faults.KindPermanentDelivery {
		t.Fatalf("abandonment not surfaced on session: kind=%q", s.LastErrorKind)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.abandoned) != 1 || f.notifier.abandoned[0] != 2 {
		t.Fatalf("notifier not told about abandoned chunk: %v", f.notifier.abandoned)
	}
}

func TestPermanentFailureAbandonsImmediately(t *testing.T) {
	f := newFixture(t, func(chunkIndex, attempt int) error {
		return fmt.Errorf("%w: payload rejected", faults.ErrPermanentDelivery)
	})
	f.createSession(t, "s1")
	ctx := context.Background()

	f.enqueue(t, "s1", 0)
	if _, err := f.queue.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}

	if got := f.uploader.attemptCount(0); got != 1 {
		t.Fatalf("permanent failure retried: %d attempts", got)
	}
	tasks, err := f.store.TasksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("TasksBySession failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].State != store.TaskAbandoned {
		t.Fatalf("expected abandoned task, got %+v", tasks)
	}
}

func TestBackoffDeadlineSurvivesRestart(t *testing.T) {
	f := newFixture(t, func(chunkIndex, attempt int) error {
		return fmt.Errorf("%w: unreachable", faults.ErrTransientDelivery)
	})
	f.createSession(t, "s1")
	ctx := context.Background()

	f.enqueue(t, "s1", 0)
	if _, err := f.queue.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}

	// Simulate a restart: a fresh queue over the same store and clock.
	restarted := NewQueue(f.store, f.machine, f.uploader, f.notifier, f.clock, f.cfg, logging.NewNop())

	// Still inside the backoff window: nothing to do.
	if attempts, _ := restarted.ProcessOnce(ctx); attempts != 0 {
		t.Fatalf("restart ignored persisted backoff deadline, attempts=%d", attempts)
	}

	f.clock.Advance(time.Duration(f.cfg.Queue.BackoffBaseSeconds) * time.Second)
	attempts, err := restarted.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce after deadline failed: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt after deadline, got %d", attempts)
	}
	if got := f.uploader.attemptCount(0); got != 2 {
		t.Fatalf("expected 2 total attempts, got %d", got)
	}
}

func TestStartDrainsPendingBacklog(t *testing.T) {
	delivered := make(chan int, 8)
	f := newFixture(t, nil)
	f.uploader.fail = func(chunkIndex, attempt int) error {
		delivered <- chunkIndex
		return nil
	}
	f.createSession(t, "s1")
	ctx := context.Background()

	// Backlog from a previous run, including a task stuck in sending.
	for i := 0; i < 2; i++ {
		f.enqueue(t, "s1", i)
	}
	if claimed, err := f.store.MarkTaskSending(ctx, TaskID("s1", 1)); err != nil || !claimed {
		t.Fatalf("seeding stuck task failed: claimed=%v err=%v", claimed, err)
	}

	if err := f.queue.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.queue.Stop()

	seen := make(map[int]bool)
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case idx := <-delivered:
			seen[idx] = true
		case <-deadline:
			t.Fatalf("startup drain incomplete, saw %v", seen)
		}
	}
}
