package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = "id, session_id, chunk_index, payload_path, captured_at, created_at, state, retry_count, next_eligible_at"

// InsertTask persists a new delivery task. Inserting a task whose
// (session_id, chunk_index) key already exists is a no-op; the return value
// reports whether a row was actually created. This is the dedup invariant
// that makes re-enqueue after a crash replay safe.
func (s *Store) InsertTask(ctx context.Context, task *Task) (bool, error) {
	if task == nil {
		return false, errors.New("task is nil")
	}
	if task.ID == "" {
		return false, errors.New("task id is required")
	}
	if task.SessionID == "" {
		return false, errors.New("task session id is required")
	}
	if task.ChunkIndex < 0 {
		return false, errors.New("task chunk index must not be negative")
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.State == "" {
		task.State = TaskPending
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO delivery_tasks (
            id, session_id, chunk_index, payload_path, captured_at, created_at,
            state, retry_count, next_eligible_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.SessionID,
		task.ChunkIndex,
		task.PayloadPath,
		task.CapturedAt.UTC().Format(time.RFC3339Nano),
		task.CreatedAt.Format(time.RFC3339Nano),
		task.State,
		task.RetryCount,
		nullableTime(task.NextEligibleAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetTask fetches a task by its (session_id, chunk_index) key. Returns nil
// when absent.
func (s *Store) GetTask(ctx context.Context, sessionID string, chunkIndex int) (*Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM delivery_tasks WHERE session_id = ? AND chunk_index = ?`,
		sessionID, chunkIndex,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// DueTasks returns pending tasks whose next_eligible_at is unset or past,
// oldest first, capped at limit.
func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM delivery_tasks
         WHERE state = ? AND (next_eligible_at IS NULL OR next_eligible_at <= ?)
         ORDER BY created_at LIMIT ?`,
		TaskPending,
		now.UTC().Format(time.RFC3339Nano),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkTaskSending claims a pending task for an in-flight delivery attempt.
// Returns false when the task was already claimed or no longer pending.
func (s *Store) MarkTaskSending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE delivery_tasks SET state = ? WHERE id = ? AND state = ?`,
		TaskSending, id, TaskPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark task sending: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteTask removes a task whose delivery was acknowledged.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM delivery_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// RescheduleTask records a failed attempt and the backoff deadline before the
// next one. The task returns to the pending state so a restart resumes it.
func (s *Store) RescheduleTask(ctx context.Context, id string, retryCount int, nextEligibleAt time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE delivery_tasks SET state = ?, retry_count = ?, next_eligible_at = ? WHERE id = ?`,
		TaskPending,
		retryCount,
		nextEligibleAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return nil
}

// AbandonTask marks a task as permanently failed. The row is kept so the
// abandoned chunk stays visible instead of silently disappearing.
func (s *Store) AbandonTask(ctx context.Context, id string, retryCount int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE delivery_tasks SET state = ?, retry_count = ?, next_eligible_at = NULL WHERE id = ?`,
		TaskAbandoned,
		retryCount,
		id,
	)
	if err != nil {
		return fmt.Errorf("abandon task: %w", err)
	}
	return nil
}

// ResetStuckSending returns tasks stuck in the sending state back to pending.
// Called once at startup: a task still marked sending was in flight when the
// process died, and its attempt outcome is unknown.
func (s *Store) ResetStuckSending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE delivery_tasks SET state = ? WHERE state = ?`,
		TaskPending, TaskSending,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck sending: %w", err)
	}
	return res.RowsAffected()
}

// TasksBySession returns every task for a session ordered by chunk index.
func (s *Store) TasksBySession(ctx context.Context, sessionID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM delivery_tasks WHERE session_id = ? ORDER BY chunk_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UndeliveredTaskCount returns the number of tasks still awaiting delivery
// for a session (pending or claimed, not abandoned).
func (s *Store) UndeliveredTaskCount(ctx context.Context, sessionID string) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM delivery_tasks WHERE session_id = ? AND state IN (?, ?)`,
		sessionID, TaskPending, TaskSending,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count undelivered tasks: %w", err)
	}
	return count, nil
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id          string
		sessionID   string
		chunkIndex  int
		payloadPath string
		capturedRaw sql.NullString
		createdRaw  sql.NullString
		stateStr    string
		retryCount  int
		eligibleRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&chunkIndex,
		&payloadPath,
		&capturedRaw,
		&createdRaw,
		&stateStr,
		&retryCount,
		&eligibleRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:          id,
		SessionID:   sessionID,
		ChunkIndex:  chunkIndex,
		PayloadPath: payloadPath,
		State:       TaskState(stateStr),
		RetryCount:  retryCount,
	}
	if captured, err := parseTimeString(capturedRaw.String); err == nil {
		task.CapturedAt = captured
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if eligibleRaw.Valid {
		if eligible, err := parseTimeString(eligibleRaw.String); err == nil {
			task.NextEligibleAt = &eligible
		}
	}
	return task, nil
}
