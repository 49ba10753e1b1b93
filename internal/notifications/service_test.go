package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reel/internal/notifications"
	"reel/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	if err := svc.NotifySessionCompleted(context.Background(), "standup"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func runNotify(t *testing.T, notify func(svc notifications.Service) error) captured {
	t.Helper()
	var got captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Completion = true
	cfg.Notifications.Delivery = true
	cfg.Notifications.Errors = true
	if err := notify(notifications.NewService(cfg)); err != nil {
		t.Fatalf("notification failed: %v", err)
	}
	return got
}

func TestSessionCompletedPayload(t *testing.T) {
	got := runNotify(t, func(svc notifications.Service) error {
		return svc.NotifySessionCompleted(context.Background(), "Weekly Standup")
	})
	if got.title != "Reel - Session Ready" {
		t.Fatalf("unexpected title %q", got.title)
	}
	if !strings.Contains(got.body, "Weekly Standup") {
		t.Fatalf("message missing session title: %q", got.body)
	}
	if got.priority != "high" {
		t.Fatalf("unexpected priority %q", got.priority)
	}
}

func TestChunksAbandonedPayload(t *testing.T) {
	got := runNotify(t, func(svc notifications.Service) error {
		return svc.NotifyChunksAbandoned(context.Background(), "Weekly Standup", 3, errors.New("server rejected payload"))
	})
	if got.title != "Reel - Delivery Warning" {
		t.Fatalf("unexpected title %q", got.title)
	}
	if !strings.Contains(got.body, "Chunk 3") || !strings.Contains(got.body, "server rejected payload") {
		t.Fatalf("message incomplete: %q", got.body)
	}
	if got.tags != "reel,delivery,warning" {
		t.Fatalf("unexpected tags %q", got.tags)
	}
}

func TestCategoryTogglesSuppressSends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("notification sent despite disabled category")
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Completion = false
	cfg.Notifications.Delivery = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	if err := svc.NotifySessionCompleted(ctx, "standup"); err != nil {
		t.Fatalf("NotifySessionCompleted failed: %v", err)
	}
	if err := svc.NotifyChunksAbandoned(ctx, "standup", 0, nil); err != nil {
		t.Fatalf("NotifyChunksAbandoned failed: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("boom"), "outbox"); err != nil {
		t.Fatalf("NotifyError failed: %v", err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Completion = true
	svc := notifications.NewService(cfg)

	err := svc.NotifySessionCompleted(context.Background(), "standup")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected ntfy status error, got %v", err)
	}
}
