package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = "id, title, status, created_at, updated_at, start_time, end_time, duration_seconds, total_chunks, delivered_chunks, abandoned_chunks, transcript, summary, key_points_json, action_items_json, last_error_kind, last_error"

// InsertSession persists a new session row.
func (s *Store) InsertSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	if session.ID == "" {
		return errors.New("session id is required")
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	keyPoints, actionItems, err := marshalResultLists(session)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
            id, title, status, created_at, updated_at, start_time, end_time,
            duration_seconds, total_chunks, delivered_chunks, abandoned_chunks,
            transcript, summary, key_points_json, action_items_json,
            last_error_kind, last_error
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Title,
		session.Status,
		session.CreatedAt.Format(time.RFC3339Nano),
		session.UpdatedAt.Format(time.RFC3339Nano),
		session.StartTime.UTC().Format(time.RFC3339Nano),
		nullableTime(session.EndTime),
		session.DurationSeconds,
		session.TotalChunks,
		session.DeliveredChunks,
		session.AbandonedChunks,
		nullableString(session.Transcript),
		nullableString(session.Summary),
		nullableString(keyPoints),
		nullableString(actionItems),
		nullableString(session.LastErrorKind),
		nullableString(session.LastError),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by identifier. Returns nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// UpdateSession persists changes to an existing session row.
func (s *Store) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	session.UpdatedAt = time.Now().UTC()

	keyPoints, actionItems, err := marshalResultLists(session)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET title = ?, status = ?, updated_at = ?, start_time = ?, end_time = ?,
             duration_seconds = ?, total_chunks = ?, delivered_chunks = ?,
             abandoned_chunks = ?, transcript = ?, summary = ?, key_points_json = ?,
             action_items_json = ?, last_error_kind = ?, last_error = ?
         WHERE id = ?`,
		session.Title,
		session.Status,
		session.UpdatedAt.Format(time.RFC3339Nano),
		session.StartTime.UTC().Format(time.RFC3339Nano),
		nullableTime(session.EndTime),
		session.DurationSeconds,
		session.TotalChunks,
		session.DeliveredChunks,
		session.AbandonedChunks,
		nullableString(session.Transcript),
		nullableString(session.Summary),
		nullableString(keyPoints),
		nullableString(actionItems),
		nullableString(session.LastErrorKind),
		nullableString(session.LastError),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update session: %s not found", session.ID)
	}
	return nil
}

// ListSessions returns sessions filtered by status set (or all sessions when
// no status is provided), newest first.
func (s *Store) ListSessions(ctx context.Context, statuses ...SessionStatus) ([]*Session, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + sessionColumns + ` FROM sessions`
	orderClause := ` ORDER BY created_at DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, via cascade, its delivery tasks.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Health aggregates session and task counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	health := HealthSummary{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return health, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status SessionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return health, err
		}
		health.Sessions += count
		switch status {
		case StatusRecording:
			health.Recording += count
		case StatusUploaded, StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return health, err
	}

	taskRows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM delivery_tasks GROUP BY state`)
	if err != nil {
		return health, fmt.Errorf("task stats: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var state TaskState
		var count int
		if err := taskRows.Scan(&state, &count); err != nil {
			return health, err
		}
		switch state {
		case TaskPending:
			health.PendingTasks += count
		case TaskSending:
			health.SendingTasks += count
		case TaskAbandoned:
			health.AbandonedTasks += count
		}
	}
	return health, taskRows.Err()
}

func marshalResultLists(session *Session) (string, string, error) {
	var keyPoints, actionItems string
	if len(session.KeyPoints) > 0 {
		data, err := json.Marshal(session.KeyPoints)
		if err != nil {
			return "", "", fmt.Errorf("marshal key points: %w", err)
		}
		keyPoints = string(data)
	}
	if len(session.ActionItems) > 0 {
		data, err := json.Marshal(session.ActionItems)
		if err != nil {
			return "", "", fmt.Errorf("marshal action items: %w", err)
		}
		actionItems = string(data)
	}
	return keyPoints, actionItems, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id           string
		title        string
		statusStr    string
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startRaw     sql.NullString
		endRaw       sql.NullString
		duration     sql.NullInt64
		total        sql.NullInt64
		delivered    sql.NullInt64
		abandoned    sql.NullInt64
		transcript   sql.NullString
		summary      sql.NullString
		keyPoints    sql.NullString
		actionItems  sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&statusStr,
		&createdRaw,
		&updatedRaw,
		&startRaw,
		&endRaw,
		&duration,
		&total,
		&delivered,
		&abandoned,
		&transcript,
		&summary,
		&keyPoints,
		&actionItems,
		&errorKind,
		&errorMessage,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:              id,
		Title:           title,
		Status:          SessionStatus(statusStr),
		DurationSeconds: duration.Int64,
		TotalChunks:     int(total.Int64),
		DeliveredChunks: int(delivered.Int64),
		AbandonedChunks: int(abandoned.Int64),
		Transcript:      transcript.String,
		Summary:         summary.String,
		LastErrorKind:   errorKind.String,
		LastError:       errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		session.UpdatedAt = updated
	}
	if start, err := parseTimeString(startRaw.String); err == nil {
		session.StartTime = start
	}
	if endRaw.Valid {
		if end, err := parseTimeString(endRaw.String); err == nil {
			session.EndTime = &end
		}
	}
	if keyPoints.Valid && keyPoints.String != "" {
		if err := json.Unmarshal([]byte(keyPoints.String), &session.KeyPoints); err != nil {
			return nil, fmt.Errorf("unmarshal key points: %w", err)
		}
	}
	if actionItems.Valid && actionItems.String != "" {
		if err := json.Unmarshal([]byte(actionItems.String), &session.ActionItems); err != nil {
			return nil, fmt.Errorf("unmarshal action items: %w", err)
		}
	}
	return session, nil
}
