package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reel/internal/clock"
	"reel/internal/config"
	"reel/internal/faults"
	"reel/internal/logging"
	"reel/internal/remote"
	"reel/internal/session"
)

// StatusClient is the slice of the remote client the poller needs.
type StatusClient interface {
	GetSession(ctx context.Context, sessionID string) (*remote.SessionResponse, error)
}

// Sessions records poll verdicts on the session state machine.
type Sessions interface {
	MarkCompleted(ctx context.Context, id string, result session.Result) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// Notifier receives terminal poll outcomes. May be nil.
type Notifier interface {
	SessionCompleted(ctx context.Context, sessionID string)
	ProcessingFailed(ctx context.Context, sessionID string, cause error)
}

// Poller converts the service's open-ended asynchronous processing into a
// bounded client-side wait. Each watched session gets an immediate poll and
// then one poll per interval until a verdict arrives or the attempt budget
// runs out, at which point the session fails with a polling timeout the user
// can retry.
type Poller struct {
	remote   StatusClient
	sessions Sessions
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger

	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	watching map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New wires a poller. notifier may be nil.
func New(statusClient StatusClient, sessions Sessions, notifier Notifier, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *Poller {
	return &Poller{
		remote:      statusClient,
		sessions:    sessions,
		notifier:    notifier,
		clock:       clk,
		logger:      logging.NewComponentLogger(logger, "poller"),
		interval:    time.Duration(cfg.Poller.IntervalSeconds) * time.Second,
		maxAttempts: cfg.Poller.MaxAttempts,
		watching:    make(map[string]context.CancelFunc),
	}
}

// Watch starts polling one session. Watching an already-watched session is a
// no-op; a fresh watch (for example after a user retry) gets a fresh budget.
func (p *Poller) Watch(ctx context.Context, sessionID string) {
	p.mu.Lock()
	if _, exists := p.watching[sessionID]; exists {
		p.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	p.watching[sessionID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.forget(sessionID)
		p.poll(watchCtx, sessionID)
	}()
}

// Cancel stops watching one session, typically because it was deleted.
func (p *Poller) Cancel(sessionID string) {
	p.mu.Lock()
	cancel, ok := p.watching[sessionID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every watch and waits for the poll goroutines to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	for _, cancel := range p.watching {
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) forget(sessionID string) {
	p.mu.Lock()
	if cancel, ok := p.watching[sessionID]; ok {
		delete(p.watching, sessionID)
		cancel()
	}
	p.mu.Unlock()
}

func (p *Poller) poll(ctx context.Context, sessionID string) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if done := p.pollOnce(ctx, sessionID, attempt); done {
			return
		}
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
	}

	// Budget exhausted without a verdict. The session fails locally with a
	// kind the user can distinguish from a genuine processing failure.
	cause := faults.Wrap(faults.ErrPollTimeout, "poller", "await result",
		"no verdict from processing service within the poll budget", nil)
	p.fail(ctx, sessionID, cause)
}

// pollOnce runs a single poll attempt. Returns true when the session reached
// a terminal state and polling should stop. Transient errors only burn the
// attempt; they never fail the session directly.
func (p *Poller) pollOnce(ctx context.Context, sessionID string, attempt int) bool {
	status, err := p.remote.GetSession(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.logger.Warn("status poll failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		return false
	}

	switch status.Status {
	case remote.StatusCompleted:
		result := session.Result{
			Transcript:  status.Transcript,
			Summary:     status.Summary,
			KeyPoints:   status.KeyPoints,
			ActionItems: status.ActionItems,
		}
		if result.Empty() {
			// A done verdict with nothing in it is not a result worth
			// surfacing. Keep polling until the budget decides.
			p.logger.Warn("completed status carried an empty result",
				logging.String(logging.FieldSessionID, sessionID),
			)
			return false
		}
		if err := p.sessions.MarkCompleted(ctx, sessionID, result); err != nil {
			p.logger.Error("recording completion failed",
				logging.String(logging.FieldSessionID, sessionID),
				logging.Error(err),
			)
			return true
		}
		p.logger.Info("session completed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.String(logging.FieldEventType, "session_completed"),
		)
		if p.notifier != nil {
			p.notifier.SessionCompleted(ctx, sessionID)
		}
		return true

	case remote.StatusFailed:
		message := status.Error
		if message == "" {
			message = "processing service reported failure"
		}
		cause := faults.Wrap(faults.ErrRemoteProcessing, "poller", "await result", message, nil)
		p.fail(ctx, sessionID, cause)
		return true

	default:
		return false
	}
}

func (p *Poller) fail(ctx context.Context, sessionID string, cause error) {
	if ctx.Err() != nil {
		return
	}
	if err := p.sessions.MarkFailed(ctx, sessionID, cause); err != nil {
		p.logger.Error("recording failure failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
		)
		return
	}
	p.logger.Warn("session failed",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldEventType, "session_failed"),
		logging.Error(cause),
	)
	if p.notifier != nil {
		p.notifier.ProcessingFailed(ctx, sessionID, cause)
	}
}
