package capture

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"reel/internal/clock"
	"reel/internal/config"
	"reel/internal/logging"
	"reel/internal/testsupport"
)

// pipeSource feeds the producer from an in-process pipe.
type pipeSource struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newPipeSource() *pipeSource {
	r, w := io.Pipe()
	return &pipeSource{reader: r, writer: w}
}

func (s *pipeSource) Probe(context.Context) error { return nil }

func (s *pipeSource) Start(context.Context) (io.ReadCloser, error) {
	return s.reader, nil
}

type enqueued struct {
	sessionID  string
	chunkIndex int
	path       string
}

type recordingSink struct {
	mu    sync.Mutex
	calls []enqueued
	seen  chan enqueued
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(chan enqueued, 16)}
}

func (r *recordingSink) Enqueue(_ context.Context, sessionID string, chunkIndex int, path string, _ time.Time) error {
	call := enqueued{sessionID: sessionID, chunkIndex: chunkIndex, path: path}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.seen <- call
	return nil
}

type recordingSessions struct {
	mu        sync.Mutex
	durations []time.Duration
	lastError error
}

func (r *recordingSessions) NoteChunkFinalized(_ context.Context, _ string, _ int, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, d)
	return nil
}

func (r *recordingSessions) SetLastError(_ context.Context, _ string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = cause
	return nil
}

func captureConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Capture.ChunkSeconds = 1
	cfg.Capture.SampleRate = 8000
	cfg.Capture.Channels = 1
	cfg.Capture.MinFreeMB = 0
	return cfg
}

func waitEnqueue(t *testing.T, sink *recordingSink) enqueued {
	t.Helper()
	select {
	case call := <-sink.seen:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk enqueued in time")
		return enqueued{}
	}
}

func TestRotationCutsFullChunks(t *testing.T) {
	cfg := captureConfig(t)
	source := newPipeSource()
	sink := newRecordingSink()
	sessions := &recordingSessions{}
	producer := NewProducer(source, sink, sessions, clock.New(), cfg, logging.NewNop())

	if err := producer.Begin(context.Background(), "s1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if producer.Recording() != "s1" {
		t.Fatalf("unexpected active session %q", producer.Recording())
	}

	// 2.5 seconds of audio at 1s per chunk: two full chunks while
	// streaming, the half-second remainder finalized on End.
	const bytesPerSecond = 16000
	audio := make([]byte, bytesPerSecond*5/2)
	if _, err := source.writer.Write(audio); err != nil {
		t.Fatalf("feeding source failed: %v", err)
	}

	first := waitEnqueue(t, sink)
	second := waitEnqueue(t, sink)
	if first.chunkIndex != 0 || second.chunkIndex != 1 {
		t.Fatalf("unexpected chunk order: %+v %+v", first, second)
	}

	if err := producer.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	last := waitEnqueue(t, sink)
	if last.chunkIndex != 2 {
		t.Fatalf("final partial chunk not enqueued: %+v", last)
	}
	for _, call := range []enqueued{first, second, last} {
		if _, err := os.Stat(call.path); err != nil {
			t.Fatalf("segment file missing: %v", err)
		}
	}

	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if len(sessions.durations) != 3 {
		t.Fatalf("expected 3 finalized chunks, got %d", len(sessions.durations))
	}
	if sessions.durations[0] != time.Second || sessions.durations[2] != 500*time.Millisecond {
		t.Fatalf("unexpected chunk durations: %v", sessions.durations)
	}
}

func TestPausedAudioIsDiscarded(t *testing.T) {
	cfg := captureConfig(t)
	source := newPipeSource()
	sink := newRecordingSink()
	sessions := &recordingSessions{}
	producer := NewProducer(source, sink, sessions, clock.New(), cfg, logging.NewNop())

	if err := producer.Begin(context.Background(), "s1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := producer.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if !producer.Paused() {
		t.Fatal("producer not paused")
	}

	// Enough audio for two chunks, all of it while paused.
	audio := make([]byte, 32000)
	if _, err := source.writer.Write(audio); err != nil {
		t.Fatalf("feeding source failed: %v", err)
	}
	if err := producer.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.calls) != 0 {
		t.Fatalf("paused audio produced chunks: %+v", sink.calls)
	}
}

func TestResumeClearsPause(t *testing.T) {
	cfg := captureConfig(t)
	producer := NewProducer(newPipeSource(), newRecordingSink(), &recordingSessions{}, clock.New(), cfg, logging.NewNop())

	if err := producer.Begin(context.Background(), "s1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer producer.End(context.Background())

	if err := producer.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := producer.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if producer.Paused() {
		t.Fatal("still paused after resume")
	}
}

func TestBeginRejectsConcurrentCapture(t *testing.T) {
	cfg := captureConfig(t)
	source := newPipeSource()
	producer := NewProducer(source, newRecordingSink(), &recordingSessions{}, clock.New(), cfg, logging.NewNop())

	if err := producer.Begin(context.Background(), "s1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer producer.End(context.Background())

	if err := producer.Begin(context.Background(), "s2"); err == nil {
		t.Fatal("second Begin succeeded")
	}
}

func TestControlsRequireActiveCapture(t *testing.T) {
	cfg := captureConfig(t)
	producer := NewProducer(newPipeSource(), newRecordingSink(), &recordingSessions{}, clock.New(), cfg, logging.NewNop())

	if err := producer.Pause(); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if err := producer.End(context.Background()); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}
