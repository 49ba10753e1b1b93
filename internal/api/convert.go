package api

import "reel/internal/store"

// FromSession converts a stored session into its wire view.
func FromSession(s *store.Session) SessionView {
	if s == nil {
		return SessionView{}
	}
	return SessionView{
		ID:              s.ID,
		Title:           s.Title,
		Status:          string(s.Status),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.DurationSeconds,
		TotalChunks:     s.TotalChunks,
		DeliveredChunks: s.DeliveredChunks,
		AbandonedChunks: s.AbandonedChunks,
		Progress:        s.Progress(),
		Transcript:      s.Transcript,
		Summary:         s.Summary,
		KeyPoints:       s.KeyPoints,
		ActionItems:     s.ActionItems,
		LastErrorKind:   s.LastErrorKind,
		LastError:       s.LastError,
	}
}

// FromSessions converts a stored session list.
func FromSessions(sessions []*store.Session) []SessionView {
	if len(sessions) == 0 {
		return nil
	}
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, FromSession(s))
	}
	return out
}

// FromTask converts a stored delivery task into its wire view.
func FromTask(t *store.Task) TaskView {
	if t == nil {
		return TaskView{}
	}
	return TaskView{
		ID:             t.ID,
		SessionID:      t.SessionID,
		ChunkIndex:     t.ChunkIndex,
		PayloadPath:    t.PayloadPath,
		CapturedAt:     t.CapturedAt,
		State:          string(t.State),
		RetryCount:     t.RetryCount,
		NextEligibleAt: t.NextEligibleAt,
	}
}

// FromTasks converts a stored task list.
func FromTasks(tasks []*store.Task) []TaskView {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FromTask(t))
	}
	return out
}
