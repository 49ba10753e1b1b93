package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reel/internal/clock"
	"reel/internal/config"
	"reel/internal/faults"
	"reel/internal/logging"
	"reel/internal/store"
)

// taskNamespace seeds deterministic task IDs so re-enqueueing the same chunk
// after a crash replay produces the same row key.
var taskNamespace = uuid.MustParse("9d816f4c-51c5-4c26-9f0a-3b7de51277a2")

// batchLimit caps how many due tasks one scheduler pass picks up.
const batchLimit = 32

// Sessions is the slice of the session state machine the queue reports
// delivery outcomes to.
type Sessions interface {
	NoteChunkDelivered(ctx context.Context, id string, chunkIndex int) error
	NoteChunkAbandoned(ctx context.Context, id string, chunkIndex int, cause error) error
}

// Uploader delivers one chunk file to the processing service.
type Uploader interface {
	UploadChunk(ctx context.Context, sessionID string, chunkIndex int, path string) error
}

// Notifier receives delivery warnings. May be nil.
type Notifier interface {
	ChunkAbandoned(ctx context.Context, sessionID string, chunkIndex int, cause error)
}

// Queue is the durable outbox between the chunk producer and the processing
// service. Tasks are persisted before any delivery attempt; a crash at any
// point leaves either a pending task or a confirmed delivery, never a lost
// chunk.
type Queue struct {
	store    *store.Store
	sessions Sessions
	uploader Uploader
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger

	interval      time.Duration
	backoffBase   time.Duration
	maxRetries    int
	maxParallel   int
	uploadTimeout time.Duration

	kick chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue wires the outbox. notifier may be nil.
func NewQueue(st *store.Store, sessions Sessions, uploader Uploader, notifier Notifier, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *Queue {
	return &Queue{
		store:         st,
		sessions:      sessions,
		uploader:      uploader,
		notifier:      notifier,
		clock:         clk,
		logger:        logging.NewComponentLogger(logger, "outbox"),
		interval:      time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		backoffBase:   time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
		maxRetries:    cfg.Queue.MaxRetries,
		maxParallel:   cfg.Queue.MaxParallel,
		uploadTimeout: time.Duration(cfg.Queue.UploadTimeoutSeconds) * time.Second,
		kick:          make(chan struct{}, 1),
	}
}

// TaskID returns the deterministic identifier for a chunk's delivery task.
func TaskID(sessionID string, chunkIndex int) string {
	return uuid.NewSHA1(taskNamespace, []byte(fmt.Sprintf("%s/%d", sessionID, chunkIndex))).String()
}

// Enqueue persists a delivery task for a finalized chunk. Once Enqueue
// returns nil the task survives a crash. Enqueueing the same chunk twice is
// a no-op.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, chunkIndex int, payloadPath string, capturedAt time.Time) error {
	task := &store.Task{
		ID:          TaskID(sessionID, chunkIndex),
		SessionID:   sessionID,
		ChunkIndex:  chunkIndex,
		PayloadPath: payloadPath,
		CapturedAt:  capturedAt.UTC(),
		State:       store.TaskPending,
	}
	inserted, err := q.store.InsertTask(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueueing chunk %d of session %s: %w", chunkIndex, sessionID, err)
	}
	if !inserted {
		q.logger.Debug("chunk already enqueued",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int(logging.FieldChunkIndex, chunkIndex),
		)
		return nil
	}
	q.logger.Info("chunk enqueued",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int(logging.FieldChunkIndex, chunkIndex),
		logging.String(logging.FieldTaskID, task.ID),
	)
	q.wake()
	return nil
}

// Undelivered reports how many of a session's chunks still await delivery.
func (q *Queue) Undelivered(ctx context.Context, sessionID string) (int, error) {
	return q.store.UndeliveredTaskCount(ctx, sessionID)
}

// Start recovers tasks interrupted by a previous crash and launches the
// scheduler loop.
func (q *Queue) Start(ctx context.Context) error {
	reset, err := q.store.ResetStuckSending(ctx)
	if err != nil {
		return fmt.Errorf("recovering in-flight tasks: %w", err)
	}
	if reset > 0 {
		q.logger.Info("recovered tasks interrupted mid-flight", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	q.mu.Lock()
	q.cancel = cancel
	q.done = done
	q.mu.Unlock()

	go q.run(runCtx, done)
	return nil
}

// Stop cancels the scheduler loop and waits for in-flight attempts to wind
// down. Claimed tasks are re-opened on the next Start.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := q.clock.NewTicker(q.interval)
	defer ticker.Stop()

	// Drain whatever is already due before the first tick.
	q.processSafely(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			q.processSafely(ctx)
		case <-q.kick:
			q.processSafely(ctx)
		}
	}
}

func (q *Queue) processSafely(ctx context.Context) {
	if _, err := q.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
		q.logger.Error("scheduler pass failed", logging.Error(err))
	}
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// ProcessOnce runs one scheduler pass: claim every eligible task and attempt
// delivery with bounded parallelism. Returns the number of attempts made.
func (q *Queue) ProcessOnce(ctx context.Context) (int, error) {
	now := q.clock.Now().UTC()
	due, err := q.store.DueTasks(ctx, now, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("selecting due tasks: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	attempts := 0
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(q.maxParallel)
	for _, task := range due {
		claimed, err := q.store.MarkTaskSending(ctx, task.ID)
		if err != nil {
			return attempts, fmt.Errorf("claiming task %s: %w", task.ID, err)
		}
		if !claimed {
			continue
		}
		attempts++
		task := task
		group.Go(func() error {
			q.attempt(groupCtx, task)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return attempts, err
	}
	return attempts, nil
}

// attempt runs one delivery try and records its outcome. Outcome persistence
// uses a background-derived context so a daemon shutdown mid-attempt cannot
// lose a result that already happened.
func (q *Queue) attempt(ctx context.Context, task *store.Task) {
	attemptCtx := ctx
	if q.uploadTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, q.uploadTimeout)
		defer cancel()
	}

	err := q.uploader.UploadChunk(attemptCtx, task.SessionID, task.ChunkIndex, task.PayloadPath)
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelRecord()

	if err == nil {
		q.recordDelivered(recordCtx, task)
		return
	}
	q.recordFailure(recordCtx, task, err)
}

func (q *Queue) recordDelivered(ctx context.Context, task *store.Task) {
	if err := q.store.CompleteTask(ctx, task.ID); err != nil {
		q.logger.Error("completing delivered task failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
		return
	}
	if err := q.sessions.NoteChunkDelivered(ctx, task.SessionID, task.ChunkIndex); err != nil {
		q.logger.Error("recording delivery on session failed",
			logging.String(logging.FieldSessionID, task.SessionID),
			logging.Error(err),
		)
	}
	q.logger.Info("chunk delivered",
		logging.String(logging.FieldSessionID, task.SessionID),
		logging.Int(logging.FieldChunkIndex, task.ChunkIndex),
		logging.Int("attempts", task.RetryCount+1),
	)
}

func (q *Queue) recordFailure(ctx context.Context, task *store.Task, cause error) {
	retries := task.RetryCount + 1
	if faults.Retryable(cause) && retries < q.maxRetries {
		next := q.clock.Now().UTC().Add(q.backoffDelay(retries))
		if err := q.store.RescheduleTask(ctx, task.ID, retries, next); err != nil {
			q.logger.Error("rescheduling task failed",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(err),
			)
			return
		}
		q.logger.Warn("delivery attempt failed, will retry",
			logging.String(logging.FieldSessionID, task.SessionID),
			logging.Int(logging.FieldChunkIndex, task.ChunkIndex),
			logging.Int(logging.FieldRetryCount, retries),
			logging.Time("next_attempt", next),
			logging.Error(cause),
		)
		return
	}

	if err := q.store.AbandonTask(ctx, task.ID, retries); err != nil {
		q.logger.Error("abandoning task failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
		return
	}
	abandonErr := cause
	if faults.Retryable(cause) {
		abandonErr = faults.Wrap(faults.ErrPermanentDelivery, "outbox", "deliver chunk",
			fmt.Sprintf("retry budget of %d exhausted", q.maxRetries), cause)
	}
	if err := q.sessions.NoteChunkAbandoned(ctx, task.SessionID, task.ChunkIndex, abandonErr); err != nil {
		q.logger.Error("recording abandoned chunk on session failed",
			logging.String(logging.FieldSessionID, task.SessionID),
			logging.Error(err),
		)
	}
	if q.notifier != nil {
		q.notifier.ChunkAbandoned(ctx, task.SessionID, task.ChunkIndex, abandonErr)
	}
}

// backoffDelay doubles per failed attempt starting from the configured base:
// base, 2*base, 4*base and so on.
func (q *Queue) backoffDelay(retries int) time.Duration {
	delay := q.backoffBase
	for i := 1; i < retries; i++ {
		delay *= 2
	}
	return delay
}
