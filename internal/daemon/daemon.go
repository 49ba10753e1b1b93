package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"reel/internal/capture"
	"reel/internal/clock"
	"reel/internal/config"
	"reel/internal/logging"
	"reel/internal/notifications"
	"reel/internal/outbox"
	"reel/internal/poller"
	"reel/internal/remote"
	"reel/internal/session"
	"reel/internal/store"
)

// localUserID identifies this device to the processing service.
const localUserID = "reel-daemon"

// Daemon wires the capture producer, the delivery outbox, the session state
// machine and the status poller together, and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	machine  *session.Machine
	producer *capture.Producer
	queue    *outbox.Queue
	poller   *poller.Poller
	remote   *remote.Client
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	api     *apiServer
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	source capture.Source
}

// WithSource overrides the default ffmpeg capture source.
func WithSource(source capture.Source) Option {
	return func(o *options) { o.source = source }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	clk := clock.New()
	machine := session.NewMachine(st, logger)
	remoteClient := remote.NewClient(cfg, logger)
	notifier := notifications.NewService(cfg)
	hooks := newNotificationHooks(notifier, machine, logger)
	queue := outbox.NewQueue(st, machine, remoteClient, hooks, clk, cfg, logger)
	watcher := poller.New(remoteClient, machine, hooks, clk, cfg, logger)
	source := o.source
	if source == nil {
		source = capture.NewFFmpegSource(cfg)
	}
	producer := capture.NewProducer(source, queue, machine, clk, cfg, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		machine:  machine,
		producer: producer,
		queue:    queue,
		poller:   watcher,
		remote:   remoteClient,
		notifier: notifier,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api, err = newAPIServer(cfg, d, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return d, nil
}

// Start acquires the daemon lock, recovers state interrupted by a previous
// crash and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reel daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.queue.Start(d.ctx); err != nil {
		d.releaseLock()
		d.cancel()
		return fmt.Errorf("starting outbox: %w", err)
	}
	if err := d.recover(d.ctx); err != nil {
		d.queue.Stop()
		d.releaseLock()
		d.cancel()
		return fmt.Errorf("recovering interrupted sessions: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.queue.Stop()
		d.releaseLock()
		d.cancel()
		return err
	}

	d.running.Store(true)
	d.logger.Info("reel daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()),
	)
	return nil
}

// recover moves sessions stranded by a crash back into a consistent state
// and resumes polling for everything still waiting on the service.
func (d *Daemon) recover(ctx context.Context) error {
	recovered, err := d.machine.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	for _, s := range recovered {
		d.logger.Info("resumed interrupted session",
			logging.String(logging.FieldSessionID, s.ID),
		)
	}

	processing, err := d.machine.List(ctx, store.StatusProcessing)
	if err != nil {
		return err
	}
	for _, s := range processing {
		d.poller.Watch(ctx, s.ID)
	}
	return nil
}

// Stop winds the daemon down: an active capture is ended cleanly so its last
// segment lands in the outbox before the scheduler stops.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if id := d.producer.Recording(); id != "" {
		if _, err := d.StopSession(context.Background()); err != nil {
			d.logger.Warn("ending active capture during shutdown failed",
				logging.String(logging.FieldSessionID, id),
				logging.Error(err),
			)
		}
	}

	d.api.stop()
	d.poller.Stop()
	d.queue.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.releaseLock()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("reel daemon stopped")
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// StartSession registers a session with the processing service, records it
// locally and begins capturing. The remote call happens first so both sides
// agree on the session identifier from the first chunk.
func (d *Daemon) StartSession(ctx context.Context, title string) (*store.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("session title is required")
	}
	if id := d.producer.Recording(); id != "" {
		return nil, fmt.Errorf("%w: session %s", session.ErrRecorderBusy, id)
	}

	id, err := d.remote.CreateSession(ctx, title, localUserID)
	if err != nil {
		return nil, fmt.Errorf("registering session with the processing service: %w", err)
	}

	created, err := d.machine.Create(ctx, id, title, time.Now())
	if err != nil {
		return nil, err
	}
	if err := d.producer.Begin(ctx, id); err != nil {
		// Capture never started, so there is nothing worth keeping.
		if _, deleteErr := d.machine.Delete(ctx, id); deleteErr != nil {
			d.logger.Warn("cleaning up unstarted session failed",
				logging.String(logging.FieldSessionID, id),
				logging.Error(deleteErr),
			)
		}
		if deleteErr := d.remote.DeleteSession(ctx, id); deleteErr != nil {
			d.logger.Warn("removing unstarted session upstream failed",
				logging.String(logging.FieldSessionID, id),
				logging.Error(deleteErr),
			)
		}
		return nil, err
	}
	return created, nil
}

// StopSession ends the active capture, transitions the session onward and
// starts polling for its processing result.
func (d *Daemon) StopSession(ctx context.Context) (*store.Session, error) {
	id := d.producer.Recording()
	if id == "" {
		return nil, capture.ErrNotRecording
	}

	captureErr := d.producer.End(ctx)
	if captureErr != nil && !errors.Is(captureErr, capture.ErrNotRecording) {
		d.logger.Warn("capture ended with a fault",
			logging.String(logging.FieldSessionID, id),
			logging.Error(captureErr),
		)
	}

	undelivered, err := d.queue.Undelivered(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("counting undelivered chunks: %w", err)
	}
	if err := d.machine.EndRecording(ctx, id, time.Now(), undelivered); err != nil {
		return nil, err
	}

	watchCtx := d.ctx
	if watchCtx == nil {
		watchCtx = context.Background()
	}
	d.poller.Watch(watchCtx, id)
	return d.machine.Get(ctx, id)
}

// PauseSession pauses the active capture.
func (d *Daemon) PauseSession(context.Context) error {
	return d.producer.Pause()
}

// ResumeSession resumes a paused capture.
func (d *Daemon) ResumeSession(context.Context) error {
	return d.producer.Resume()
}

// RetrySession re-opens polling for a failed session at the user's request.
func (d *Daemon) RetrySession(ctx context.Context, id string) (*store.Session, error) {
	if err := d.machine.RetryProcessing(ctx, id); err != nil {
		return nil, err
	}
	watchCtx := d.ctx
	if watchCtx == nil {
		watchCtx = context.Background()
	}
	d.poller.Watch(watchCtx, id)
	return d.machine.Get(ctx, id)
}

// DeleteSession removes a session locally (tasks cascade), clears its
// segment files and deletes the remote copy best-effort.
func (d *Daemon) DeleteSession(ctx context.Context, id string) error {
	if d.producer.Recording() == id {
		return errors.New("stop the active recording before deleting it")
	}
	d.poller.Cancel(id)

	deleted, err := d.machine.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}

	segments := filepath.Join(d.cfg.Paths.SegmentDir, id)
	if err := os.RemoveAll(segments); err != nil {
		d.logger.Warn("removing segment files failed",
			logging.String(logging.FieldSessionID, id),
			logging.Error(err),
		)
	}
	if err := d.remote.DeleteSession(ctx, id); err != nil {
		d.logger.Warn("removing session upstream failed",
			logging.String(logging.FieldSessionID, id),
			logging.Error(err),
		)
	}
	d.logger.Info("session deleted", logging.String(logging.FieldSessionID, id))
	return nil
}

// Sessions lists sessions filtered by optional statuses.
func (d *Daemon) Sessions(ctx context.Context, statuses ...store.SessionStatus) ([]*store.Session, error) {
	return d.machine.List(ctx, statuses...)
}

// Session fetches one session.
func (d *Daemon) Session(ctx context.Context, id string) (*store.Session, error) {
	return d.machine.Get(ctx, id)
}

// Tasks lists the delivery tasks of one session.
func (d *Daemon) Tasks(ctx context.Context, id string) ([]*store.Task, error) {
	return d.store.TasksBySession(ctx, id)
}

// Watch exposes committed session snapshots, for the event stream.
func (d *Daemon) Watch(buffer int) (<-chan *store.Session, func()) {
	return d.machine.Watch(buffer)
}

// Status reports the current daemon state.
type Status struct {
	Running       bool
	PID           int
	DatabasePath  string
	LockFilePath  string
	ActiveSession string
	Paused        bool
	Health        store.HealthSummary
}

// Status returns current runtime information.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		DatabasePath:  d.cfg.DatabasePath(),
		LockFilePath:  d.lockPath,
		ActiveSession: d.producer.Recording(),
		Paused:        d.producer.Paused(),
		Health:        health,
	}, nil
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
