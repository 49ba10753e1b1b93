package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reel/internal/config"
)

const userAgent = "Reel-Go/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifySessionCompleted(ctx context.Context, title string) error
	NotifyProcessingFailed(ctx context.Context, title string, cause error) error
	NotifyChunksAbandoned(ctx context.Context, title string, chunkIndex int, cause error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		completion: cfg.Notifications.Completion,
		delivery:   cfg.Notifications.Delivery,
		errors:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	completion bool
	delivery   bool
	errors     bool
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, title string) error {
	if !n.completion {
		return nil
	}
	title = strings.TrimSpace(title)
	data := payload{
		title:    "Reel - Session Ready",
		message:  fmt.Sprintf("Transcript and summary ready: %s", title),
		tags:     []string{"reel", "session", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProcessingFailed(ctx context.Context, title string, cause error) error {
	if !n.completion {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Processing failed: %s", title)
	if cause != nil {
		message = fmt.Sprintf("%s\n%s", message, strings.TrimSpace(cause.Error()))
	}
	data := payload{
		title:    "Reel - Processing Failed",
		message:  message,
		tags:     []string{"reel", "session", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyChunksAbandoned(ctx context.Context, title string, chunkIndex int, cause error) error {
	if !n.delivery {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Chunk %d of %s could not be uploaded\nAudio is kept locally for manual recovery", chunkIndex, title)
	if cause != nil {
		message = fmt.Sprintf("%s\n%s", message, strings.TrimSpace(cause.Error()))
	}
	data := payload{
		title:    "Reel - Delivery Warning",
		message:  message,
		tags:     []string{"reel", "delivery", "warning"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Reel - Error",
		message:  builder.String(),
		tags:     []string{"reel", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Reel - Test",
		message:  "Notification system test",
		tags:     []string{"reel", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifySessionCompleted(context.Context, string) error { return nil }

func (noopService) NotifyProcessingFailed(context.Context, string, error) error { return nil }

func (noopService) NotifyChunksAbandoned(context.Context, string, int, error) error { return nil }

func (noopService) NotifyError(context.Context, error, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
