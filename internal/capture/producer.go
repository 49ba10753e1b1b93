package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reel/internal/clock"
	"reel/internal/config"
	"reel/internal/logging"
)

// ErrNotRecording is returned by controls that need an active capture.
var ErrNotRecording = errors.New("no active capture")

// SegmentSink receives finalized chunks. Implemented by the outbox.
type SegmentSink interface {
	Enqueue(ctx context.Context, sessionID string, chunkIndex int, payloadPath string, capturedAt time.Time) error
}

// SessionRecorder is the slice of the session state machine the producer
// reports chunk progress and capture faults to.
type SessionRecorder interface {
	NoteChunkFinalized(ctx context.Context, id string, chunkIndex int, chunkDuration time.Duration) error
	SetLastError(ctx context.Context, id string, cause error) error
}

// Producer captures audio from a Source and cuts it into fixed-length WAV
// segments. Each finalized segment is counted on the session and handed to
// the sink before the next one opens, so the durable set always reflects
// what is on disk. Rotation is driven by recorded audio: pausing holds the
// chunk boundary rather than emitting padded silence.
type Producer struct {
	source   Source
	sink     SegmentSink
	sessions SessionRecorder
	clock    clock.Clock
	logger   *slog.Logger

	segmentDir    string
	chunkInterval time.Duration
	sampleRate    int
	channels      int
	minFree       uint64

	mu     sync.Mutex
	active *activeCapture
}

// NewProducer wires a chunk producer.
func NewProducer(source Source, sink SegmentSink, sessions SessionRecorder, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *Producer {
	return &Producer{
		source:        source,
		sink:          sink,
		sessions:      sessions,
		clock:         clk,
		logger:        logging.NewComponentLogger(logger, "capture"),
		segmentDir:    cfg.Paths.SegmentDir,
		chunkInterval: cfg.ChunkInterval(),
		sampleRate:    cfg.Capture.SampleRate,
		channels:      cfg.Capture.Channels,
		minFree:       cfg.MinFreeBytes(),
	}
}

type activeCapture struct {
	producer  *Producer
	sessionID string
	dir       string

	ctx    context.Context
	cancel context.CancelFunc
	stream io.ReadCloser
	done   chan struct{}

	// Guards writer, chunkIndex, openedAt and paused against the reader
	// goroutine.
	mu         sync.Mutex
	writer     *segmentWriter
	chunkIndex int
	openedAt   time.Time
	paused     bool
	failure    error
}

// Begin starts capturing for one session. Only a single capture may run at a
// time.
func (p *Producer) Begin(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return fmt.Errorf("capture already running for session %s", p.active.sessionID)
	}

	if err := p.source.Probe(ctx); err != nil {
		return err
	}
	dir := filepath.Join(p.segmentDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	if err := checkFreeSpace(dir, p.minFree); err != nil {
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	stream, err := p.source.Start(captureCtx)
	if err != nil {
		cancel()
		return err
	}

	capture := &activeCapture{
		producer:  p,
		sessionID: sessionID,
		dir:       dir,
		ctx:       captureCtx,
		cancel:    cancel,
		stream:    stream,
		done:      make(chan struct{}),
	}
	if err := capture.openSegment(); err != nil {
		cancel()
		stream.Close()
		return err
	}

	p.active = capture
	p.logger.Info("capture started",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Duration("chunk_interval", p.chunkInterval),
	)
	go capture.run()
	return nil
}

// Pause stops recording audio without closing the open segment. Incoming
// audio is discarded while paused.
func (p *Producer) Pause() error {
	return p.setPaused(true)
}

// Resume continues recording into the segment that was open at pause time.
func (p *Producer) Resume() error {
	return p.setPaused(false)
}

func (p *Producer) setPaused(paused bool) error {
	p.mu.Lock()
	capture := p.active
	p.mu.Unlock()
	if capture == nil {
		return ErrNotRecording
	}
	capture.mu.Lock()
	capture.paused = paused
	capture.mu.Unlock()
	state := "resumed"
	if paused {
		state = "paused"
	}
	p.logger.Info("capture "+state, logging.String(logging.FieldSessionID, capture.sessionID))
	return nil
}

// Paused reports whether the active capture is currently discarding audio.
func (p *Producer) Paused() bool {
	p.mu.Lock()
	capture := p.active
	p.mu.Unlock()
	if capture == nil {
		return false
	}
	capture.mu.Lock()
	defer capture.mu.Unlock()
	return capture.paused
}

// Recording returns the session currently being captured, empty when idle.
func (p *Producer) Recording() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return ""
	}
	return p.active.sessionID
}

// End stops the active capture, finalizes the last open segment and returns
// any fault the capture hit along the way.
func (p *Producer) End(ctx context.Context) error {
	p.mu.Lock()
	capture := p.active
	p.active = nil
	p.mu.Unlock()
	if capture == nil {
		return ErrNotRecording
	}

	capture.cancel()
	capture.stream.Close()
	<-capture.done

	capture.mu.Lock()
	failure := capture.failure
	capture.mu.Unlock()

	p.logger.Info("capture ended",
		logging.String(logging.FieldSessionID, capture.sessionID),
		logging.Int("chunks", capture.chunkIndex),
	)
	return failure
}

func (c *activeCapture) openSegment() error {
	if err := checkFreeSpace(c.dir, c.producer.minFree); err != nil {
		return err
	}
	path := filepath.Join(c.dir, fmt.Sprintf("chunk_%04d.wav", c.chunkIndex))
	writer, err := newSegmentWriter(path, c.producer.sampleRate, c.producer.channels)
	if err != nil {
		return err
	}
	c.writer = writer
	c.openedAt = c.producer.clock.Now().UTC()
	return nil
}

// run is the reader loop: pull PCM off the source, append to the open
// segment, rotate when the segment holds a full chunk of audio.
func (c *activeCapture) run() {
	defer close(c.done)
	defer c.finalizeLast()

	chunkBytes := int64(c.producer.chunkInterval/time.Second) * int64(c.producer.sampleRate*c.producer.channels*2)
	buf := make([]byte, 32*1024)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			if writeErr := c.consume(buf[:n], chunkBytes); writeErr != nil {
				c.fail(writeErr)
				return
			}
		}
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.fail(fmt.Errorf("reading capture stream: %w", err))
			}
			return
		}
	}
}

func (c *activeCapture) consume(pcm []byte, chunkBytes int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.writer == nil {
		return nil
	}
	if _, err := c.writer.Write(pcm); err != nil {
		return err
	}
	if chunkBytes > 0 && c.writer.BytesWritten() >= chunkBytes {
		return c.rotateLocked()
	}
	return nil
}

// rotateLocked closes the open segment, reports it, hands it to the sink and
// opens the next one. Called with c.mu held.
func (c *activeCapture) rotateLocked() error {
	if err := c.finalizeLocked(); err != nil {
		return err
	}
	c.chunkIndex++
	return c.openSegment()
}

// finalizeLocked publishes the open segment: count it on the session first,
// then enqueue it for delivery. Empty segments are discarded.
func (c *activeCapture) finalizeLocked() error {
	writer := c.writer
	c.writer = nil
	if writer == nil {
		return nil
	}
	if writer.BytesWritten() == 0 {
		writer.Discard()
		return nil
	}
	if err := writer.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	duration := writer.Duration()
	if err := c.producer.sessions.NoteChunkFinalized(ctx, c.sessionID, c.chunkIndex, duration); err != nil {
		return fmt.Errorf("recording finalized chunk: %w", err)
	}
	if err := c.producer.sink.Enqueue(ctx, c.sessionID, c.chunkIndex, writer.path, c.openedAt); err != nil {
		return fmt.Errorf("enqueueing chunk: %w", err)
	}
	c.producer.logger.Info("chunk finalized",
		logging.String(logging.FieldSessionID, c.sessionID),
		logging.Int(logging.FieldChunkIndex, c.chunkIndex),
		logging.Duration("audio", duration),
	)
	return nil
}

func (c *activeCapture) finalizeLast() {
	c.mu.Lock()
	err := c.finalizeLocked()
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
	}
}

// fail records a capture fault on the session and stops the stream. The
// session stays in recording; the daemon decides how to wind it down.
func (c *activeCapture) fail(cause error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = cause
	}
	if c.writer != nil {
		c.writer.Discard()
		c.writer = nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.producer.sessions.SetLastError(ctx, c.sessionID, cause); err != nil {
		c.producer.logger.Error("recording capture fault failed",
			logging.String(logging.FieldSessionID, c.sessionID),
			logging.Error(err),
		)
	}
	c.producer.logger.Error("capture fault",
		logging.String(logging.FieldSessionID, c.sessionID),
		logging.Error(cause),
	)
	c.cancel()
}
