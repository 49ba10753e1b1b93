package api

import "time"

// SessionView is the wire representation of a session shared by the daemon
// HTTP API and the CLI.
type SessionView struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	TotalChunks     int        `json:"total_chunks"`
	DeliveredChunks int        `json:"delivered_chunks"`
	AbandonedChunks int        `json:"abandoned_chunks"`
	Progress        float64    `json:"progress"`
	Paused          bool       `json:"paused,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	KeyPoints       []string   `json:"key_points,omitempty"`
	ActionItems     []string   `json:"action_items,omitempty"`
	LastErrorKind   string     `json:"last_error_kind,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// TaskView is the wire representation of one delivery task.
type TaskView struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	ChunkIndex     int        `json:"chunk_index"`
	PayloadPath    string     `json:"payload_path"`
	CapturedAt     time.Time  `json:"captured_at"`
	State          string     `json:"state"`
	RetryCount     int        `json:"retry_count"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// DaemonStatus reports daemon runtime information.
type DaemonStatus struct {
	Running          bool   `json:"running"`
	PID              int    `json:"pid"`
	DatabasePath     string `json:"database_path"`
	LockFilePath     string `json:"lock_file_path"`
	ActiveSession    string `json:"active_session,omitempty"`
	Paused           bool   `json:"paused,omitempty"`
	Sessions         int    `json:"sessions"`
	PendingTasks     int    `json:"pending_tasks"`
	SendingTasks     int    `json:"sending_tasks"`
	AbandonedTasks   int    `json:"abandoned_tasks"`
	WatchedSessions  int    `json:"watched_sessions"`
	NotificationsSet bool   `json:"notifications_configured"`
}

// StartSessionRequest begins a new recording session.
type StartSessionRequest struct {
	Title string `json:"title"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session SessionView `json:"session"`
}

// SessionListResponse wraps a session listing.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// TaskListResponse wraps a task listing for one session.
type TaskListResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Event is one message on the websocket event stream. Type is always
// "session" today; the field exists so new event kinds stay backward
// compatible.
type Event struct {
	Type    string      `json:"type"`
	Session SessionView `json:"session"`
}
