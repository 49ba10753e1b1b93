package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"reel/internal/config"
	"reel/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewSession inserts a recording session for tests and returns it.
func NewSession(t testing.TB, st *store.Store, title string) *store.Session {
	t.Helper()

	now := time.Now().UTC()
	session := &store.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    store.StatusRecording,
		StartTime: now,
	}
	if err := st.InsertSession(context.Background(), session); err != nil {
		t.Fatalf("store.InsertSession: %v", err)
	}
	return session
}

// NewTask inserts a pending delivery task for tests and returns it.
func NewTask(t testing.TB, st *store.Store, sessionID string, chunkIndex int) *store.Task {
	t.Helper()

	task := &store.Task{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ChunkIndex:  chunkIndex,
		PayloadPath: "/tmp/" + sessionID + "-" + uuid.NewString() + ".wav",
		CapturedAt:  time.Now().UTC(),
	}
	inserted, err := st.InsertTask(context.Background(), task)
	if err != nil {
		t.Fatalf("store.InsertTask: %v", err)
	}
	if !inserted {
		t.Fatalf("task for chunk %d already existed", chunkIndex)
	}
	return task
}
