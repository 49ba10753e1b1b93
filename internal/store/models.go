package store

import (
	"strings"
	"time"
)

// SessionStatus represents the lifecycle of a recording session.
type SessionStatus string

const (
	StatusRecording  SessionStatus = "recording"
	StatusUploaded   SessionStatus = "uploaded"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

var allStatuses = []SessionStatus{
	StatusRecording,
	StatusUploaded,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[SessionStatus]struct{} {
	set := make(map[SessionStatus]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []SessionStatus {
	cp := make([]SessionStatus, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known SessionStatus.
func ParseStatus(value string) (SessionStatus, bool) {
	normalized := SessionStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether the status ends a session's lifecycle. Failed
// sessions stay terminal until the user explicitly retries processing.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one recording attempt persisted in SQLite.
type Session struct {
	ID              string
	Title           string
	Status          SessionStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds int64
	TotalChunks     int
	DeliveredChunks int
	AbandonedChunks int
	Transcript      string
	Summary         string
	KeyPoints       []string
	ActionItems     []string
	LastErrorKind   string
	LastError       string
}

// Progress returns delivery progress in [0,1], 0 when no chunks exist.
func (s *Session) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.DeliveredChunks) / float64(s.TotalChunks)
}

// Clone returns a deep copy safe to hand to observers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	cp.KeyPoints = append([]string(nil), s.KeyPoints...)
	cp.ActionItems = append([]string(nil), s.ActionItems...)
	return &cp
}

// TaskState represents the delivery lifecycle of a single chunk.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskSending   TaskState = "sending"
	TaskAbandoned TaskState = "abandoned"
)

// Task is one chunk awaiting transport, persisted before any delivery attempt.
type Task struct {
	ID             string
	SessionID      string
	ChunkIndex     int
	PayloadPath    string
	CapturedAt     time.Time
	CreatedAt      time.Time
	State          TaskState
	RetryCount     int
	NextEligibleAt *time.Time
}

// HealthSummary describes aggregated store counts for diagnostics.
type HealthSummary struct {
	Sessions       int
	Recording      int
	Processing     int
	Completed      int
	Failed         int
	PendingTasks   int
	SendingTasks   int
	AbandonedTasks int
}
