package store_test

import (
	"context"
	"testing"
	"time"

	"reel/internal/store"
	"reel/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Standup")

	fetched, err := st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched == nil || fetched.Title != "Standup" {
		t.Fatalf("unexpected fetched session: %#v", fetched)
	}
	if fetched.Status != store.StatusRecording {
		t.Fatalf("expected recording status, got %s", fetched.Status)
	}
}

func TestInsertTaskDeduplicatesByChunkKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Dedup")
	task := testsupport.NewTask(t, st, session.ID, 0)

	duplicate := *task
	duplicate.ID = "different-id"
	duplicate.PayloadPath = "/tmp/other.wav"
	inserted, err := st.InsertTask(ctx, &duplicate)
	if err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate chunk key to be a no-op")
	}

	stored, err := st.GetTask(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if stored.ID != task.ID || stored.PayloadPath != task.PayloadPath {
		t.Fatalf("duplicate insert mutated the original task: %#v", stored)
	}
}

func TestDueTasksHonorsBackoffDeadline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Backoff")
	ready := testsupport.NewTask(t, st, session.ID, 0)
	waiting := testsupport.NewTask(t, st, session.ID, 1)

	now := time.Now().UTC()
	if err := st.RescheduleTask(ctx, waiting.ID, 1, now.Add(time.Hour)); err != nil {
		t.Fatalf("RescheduleTask failed: %v", err)
	}

	due, err := st.DueTasks(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != ready.ID {
		t.Fatalf("expected only the unscheduled task to be due, got %d tasks", len(due))
	}

	due, err = st.DueTasks(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected both tasks due after the deadline, got %d", len(due))
	}
}

func TestMarkTaskSendingClaimsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Claim")
	task := testsupport.NewTask(t, st, session.ID, 0)

	claimed, err := st.MarkTaskSending(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkTaskSending failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = st.MarkTaskSending(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkTaskSending failed: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to fail")
	}
}

func TestResetStuckSending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Recovery")
	first := testsupport.NewTask(t, st, session.ID, 0)
	testsupport.NewTask(t, st, session.ID, 1)

	if _, err := st.MarkTaskSending(ctx, first.ID); err != nil {
		t.Fatalf("MarkTaskSending failed: %v", err)
	}

	count, err := st.ResetStuckSending(ctx)
	if err != nil {
		t.Fatalf("ResetStuckSending failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one task reset, got %d", count)
	}

	due, err := st.DueTasks(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected both tasks pending after reset, got %d", len(due))
	}
}

func TestCrashRecoveryRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Restart")
	for i := 0; i < 3; i++ {
		testsupport.NewTask(t, st, session.ID, i)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	due, err := reopened.DueTasks(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected all 3 tasks after restart, got %d", len(due))
	}
	seen := map[int]bool{}
	for _, task := range due {
		seen[task.ChunkIndex] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Fatalf("chunk %d missing after restart", i)
		}
	}
}

func TestDeleteSessionCascadesTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Cascade")
	testsupport.NewTask(t, st, session.ID, 0)
	testsupport.NewTask(t, st, session.ID, 1)

	removed, err := st.DeleteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if !removed {
		t.Fatal("expected session to be removed")
	}

	tasks, err := st.TasksBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("TasksBySession failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected cascade to remove tasks, found %d", len(tasks))
	}
}

func TestAbandonedTaskSurvivesAndIsNotDue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Abandon")
	task := testsupport.NewTask(t, st, session.ID, 0)

	if err := st.AbandonTask(ctx, task.ID, 5); err != nil {
		t.Fatalf("AbandonTask failed: %v", err)
	}

	due, err := st.DueTasks(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("abandoned tasks must not be scheduled")
	}

	tasks, err := st.TasksBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("TasksBySession failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].State != store.TaskAbandoned {
		t.Fatalf("expected abandoned task to remain visible, got %#v", tasks)
	}
	if tasks[0].RetryCount != 5 {
		t.Fatalf("expected retry count preserved, got %d", tasks[0].RetryCount)
	}
}

func TestSessionResultRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, st, "Results")
	session.Status = store.StatusCompleted
	session.Transcript = "hello world"
	session.Summary = "a short chat"
	session.KeyPoints = []string{"first", "second"}
	session.ActionItems = []string{"follow up"}
	end := time.Now().UTC()
	session.EndTime = &end
	if err := st.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	fetched, err := st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched.Transcript != "hello world" || fetched.Summary != "a short chat" {
		t.Fatalf("result fields lost: %#v", fetched)
	}
	if len(fetched.KeyPoints) != 2 || fetched.KeyPoints[1] != "second" {
		t.Fatalf("key points lost: %#v", fetched.KeyPoints)
	}
	if len(fetched.ActionItems) != 1 {
		t.Fatalf("action items lost: %#v", fetched.ActionItems)
	}
	if fetched.EndTime == nil {
		t.Fatal("end time lost")
	}
}

func TestHealthCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	recording := testsupport.NewSession(t, st, "One")
	other := testsupport.NewSession(t, st, "Two")
	other.Status = store.StatusProcessing
	if err := st.UpdateSession(ctx, other); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	testsupport.NewTask(t, st, recording.ID, 0)

	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Sessions != 2 || health.Recording != 1 || health.Processing != 1 {
		t.Fatalf("unexpected session counts: %#v", health)
	}
	if health.PendingTasks != 1 {
		t.Fatalf("unexpected task counts: %#v", health)
	}
}
