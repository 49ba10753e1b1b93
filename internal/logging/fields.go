package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID is the standardized structured logging key for session identifiers.
	FieldSessionID = "session_id"
	// FieldChunkIndex is the standardized structured logging key for chunk ordinals.
	FieldChunkIndex = "chunk_index"
	// FieldTaskID is the standardized structured logging key for delivery task identifiers.
	FieldTaskID = "task_id"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldRetryCount is the standardized structured logging key for delivery retry counts.
	FieldRetryCount = "retry_count"
)
