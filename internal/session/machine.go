package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reel/internal/faults"
	"reel/internal/logging"
	"reel/internal/store"
)

var (
	// ErrNotFound indicates the referenced session does not exist locally.
	ErrNotFound = errors.New("session not found")
	// ErrRecorderBusy indicates another session is currently capturing.
	// Exactly one session may record per device.
	ErrRecorderBusy = errors.New("another session is recording")
)

// InvalidTransitionError reports a lifecycle move the state graph forbids.
type InvalidTransitionError struct {
	From store.SessionStatus
	To   store.SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// validTransitions is the session lifecycle graph. failed -> processing is
// the only backward edge and is reachable through RetryProcessing alone.
var validTransitions = map[store.SessionStatus][]store.SessionStatus{
	store.StatusRecording:  {store.StatusUploaded, store.StatusProcessing},
	store.StatusUploaded:   {store.StatusProcessing},
	store.StatusProcessing: {store.StatusCompleted, store.StatusFailed},
	store.StatusFailed:     {store.StatusProcessing},
}

func canTransition(from, to store.SessionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Result carries the processing output mirrored onto a completed session.
type Result struct {
	Transcript  string
	Summary     string
	KeyPoints   []string
	ActionItems []string
}

// Empty reports whether the result carries no usable content. A remote
// "done" signal with an empty result does not complete a session.
func (r Result) Empty() bool {
	return r.Transcript == "" && r.Summary == "" && len(r.KeyPoints) == 0 && len(r.ActionItems) == 0
}

// Machine is the authoritative local record of session lifecycles. Every
// session write in the process goes through it, serialized by a single lock,
// and every mutation is persisted before observers see it.
type Machine struct {
	store  *store.Store
	logger *slog.Logger

	mu sync.Mutex

	wmu      sync.Mutex
	watchers map[int]chan *store.Session
	nextID   int
}

// NewMachine constructs a session state machine over the given store.
func NewMachine(st *store.Store, logger *slog.Logger) *Machine {
	return &Machine{
		store:    st,
		logger:   logging.NewComponentLogger(logger, "session"),
		watchers: make(map[int]chan *store.Session),
	}
}

// Create opens a new recording session. Fails with ErrRecorderBusy when
// another session is already capturing.
func (m *Machine) Create(ctx context.Context, id, title string, startTime time.Time) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.store.ListSessions(ctx, store.StatusRecording)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("%w: session %s", ErrRecorderBusy, open[0].ID)
	}

	session := &store.Session{
		ID:        id,
		Title:     title,
		Status:    store.StatusRecording,
		StartTime: startTime.UTC(),
	}
	if err := m.store.InsertSession(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldEventType, "session_created"),
		logging.String("title", title),
	)
	m.publish(session)
	return session.Clone(), nil
}

// Get returns a copy of one session, or ErrNotFound.
func (m *Machine) Get(ctx context.Context, id string) (*store.Session, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return session, nil
}

// List returns sessions filtered by status, newest first.
func (m *Machine) List(ctx context.Context, statuses ...store.SessionStatus) ([]*store.Session, error) {
	return m.store.ListSessions(ctx, statuses...)
}

// NoteChunkFinalized records that the producer rotated chunk chunkIndex out
// of the open segment. total_chunks is derived from the highest index seen so
// it self-heals if a crash loses one counter update.
func (m *Machine) NoteChunkFinalized(ctx context.Context, id string, chunkIndex int, chunkDuration time.Duration) error {
	return m.mutate(ctx, id, func(session *store.Session) error {
		if session.TotalChunks < chunkIndex+1 {
			session.TotalChunks = chunkIndex + 1
		}
		session.DurationSeconds += int64(chunkDuration / time.Second)
		return nil
	})
}

// NoteChunkDelivered records a confirmed delivery. delivered_chunks only
// grows and never exceeds total_chunks.
func (m *Machine) NoteChunkDelivered(ctx context.Context, id string, chunkIndex int) error {
	return m.mutate(ctx, id, func(session *store.Session) error {
		if session.TotalChunks < chunkIndex+1 {
			session.TotalChunks = chunkIndex + 1
		}
		if session.DeliveredChunks < session.TotalChunks {
			session.DeliveredChunks++
		}
		return nil
	})
}

// NoteChunkAbandoned surfaces a permanently undeliverable chunk on the
// session so the loss is visible instead of silent.
func (m *Machine) NoteChunkAbandoned(ctx context.Context, id string, chunkIndex int, cause error) error {
	err := m.mutate(ctx, id, func(session *store.Session) error {
		session.AbandonedChunks++
		session.LastErrorKind = faults.KindPermanentDelivery
		session.LastError = fmt.Sprintf("chunk %d could not be uploaded: %v", chunkIndex, cause)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Warn("chunk abandoned after exhausting retries",
		logging.String(logging.FieldSessionID, id),
		logging.Int(logging.FieldChunkIndex, chunkIndex),
		logging.String(logging.FieldEventType, "chunk_abandoned"),
		logging.String(logging.FieldErrorHint, "audio is kept on disk under the segment directory"),
		logging.Error(cause),
	)
	return nil
}

// SetLastError records a capture-side fault on the session without moving it
// through the lifecycle graph.
func (m *Machine) SetLastError(ctx context.Context, id string, cause error) error {
	return m.mutate(ctx, id, func(session *store.Session) error {
		session.LastErrorKind = faults.Kind(cause)
		session.LastError = cause.Error()
		return nil
	})
}

// EndRecording closes capture for a session. When every finalized chunk has
// already been delivered it passes through uploaded on the way to
// processing; otherwise it moves straight to processing while the outbox
// keeps draining.
func (m *Machine) EndRecording(ctx context.Context, id string, endTime time.Time, undelivered int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.locked(ctx, id)
	if err != nil {
		return err
	}

	end := endTime.UTC()
	session.EndTime = &end

	if undelivered == 0 {
		if err := m.transitionLocked(ctx, session, store.StatusUploaded); err != nil {
			return err
		}
	}
	return m.transitionLocked(ctx, session, store.StatusProcessing)
}

// MarkCompleted finishes a session with the remote processing result. Only
// valid from processing, and only with a non-empty result.
func (m *Machine) MarkCompleted(ctx context.Context, id string, result Result) error {
	if result.Empty() {
		return fmt.Errorf("session %s: completion requires a non-empty result", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.locked(ctx, id)
	if err != nil {
		return err
	}
	session.Transcript = result.Transcript
	session.Summary = result.Summary
	session.KeyPoints = append([]string(nil), result.KeyPoints...)
	session.ActionItems = append([]string(nil), result.ActionItems...)
	session.LastErrorKind = ""
	session.LastError = ""
	return m.transitionLocked(ctx, session, store.StatusCompleted)
}

// MarkFailed moves a processing session to failed, recording a
// distinguishable error kind (remote failure vs. polling timeout).
func (m *Machine) MarkFailed(ctx context.Context, id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.locked(ctx, id)
	if err != nil {
		return err
	}
	session.LastErrorKind = faults.Kind(cause)
	session.LastError = cause.Error()
	return m.transitionLocked(ctx, session, store.StatusFailed)
}

// RetryProcessing re-opens polling for a failed session at the user's
// request. Already-delivered chunks are not re-uploaded.
func (m *Machine) RetryProcessing(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.locked(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != store.StatusFailed {
		return &InvalidTransitionError{From: session.Status, To: store.StatusProcessing}
	}
	session.LastErrorKind = ""
	session.LastError = ""
	return m.transitionLocked(ctx, session, store.StatusProcessing)
}

// RecoverInterrupted moves sessions that were still marked recording or
// uploaded at startup into processing. A session cannot be capturing when
// the process has just started; whatever chunks were finalized before the
// crash are already in the outbox.
func (m *Machine) RecoverInterrupted(ctx context.Context) ([]*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stuck, err := m.store.ListSessions(ctx, store.StatusRecording, store.StatusUploaded)
	if err != nil {
		return nil, err
	}
	recovered := make([]*store.Session, 0, len(stuck))
	for _, session := range stuck {
		if session.Status == store.StatusRecording && session.EndTime == nil {
			end := time.Now().UTC()
			session.EndTime = &end
		}
		if err := m.transitionLocked(ctx, session, store.StatusProcessing); err != nil {
			return recovered, err
		}
		recovered = append(recovered, session.Clone())
	}
	return recovered, nil
}

// Delete removes a session and, via cascade, its delivery tasks.
func (m *Machine) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.DeleteSession(ctx, id)
}

// Watch registers an observer. Snapshots arrive only after the underlying
// write committed. The returned cancel func must be called to release the
// channel; a slow observer loses intermediate snapshots, never ordering.
func (m *Machine) Watch(buffer int) (<-chan *store.Session, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *store.Session, buffer)

	m.wmu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.wmu.Unlock()

	cancel := func() {
		m.wmu.Lock()
		if existing, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(existing)
		}
		m.wmu.Unlock()
	}
	return ch, cancel
}

func (m *Machine) publish(session *store.Session) {
	snapshot := session.Clone()
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// mutate runs a read-modify-write on one session under the machine lock.
func (m *Machine) mutate(ctx context.Context, id string, fn func(*store.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.locked(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(session); err != nil {
		return err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return err
	}
	m.publish(session)
	return nil
}

func (m *Machine) locked(ctx context.Context, id string) (*store.Session, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return session, nil
}

func (m *Machine) transitionLocked(ctx context.Context, session *store.Session, to store.SessionStatus) error {
	from := session.Status
	if !canTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	session.Status = to
	if err := m.store.UpdateSession(ctx, session); err != nil {
		session.Status = from
		return err
	}
	m.logger.Info("session transition",
		logging.String(logging.FieldSessionID, session.ID),
		logging.String(logging.FieldEventType, "session_transition"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
	m.publish(session)
	return nil
}
