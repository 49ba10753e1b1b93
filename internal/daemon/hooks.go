package daemon

import (
	"context"
	"log/slog"

	"reel/internal/logging"
	"reel/internal/notifications"
	"reel/internal/session"
)

// notificationHooks adapts the notification service to the fire-and-forget
// callbacks the outbox and poller expect. Notification failures are logged
// and never propagate into the delivery or poll paths.
type notificationHooks struct {
	notifier notifications.Service
	machine  *session.Machine
	logger   *slog.Logger
}

func newNotificationHooks(notifier notifications.Service, machine *session.Machine, logger *slog.Logger) *notificationHooks {
	return &notificationHooks{
		notifier: notifier,
		machine:  machine,
		logger:   logging.NewComponentLogger(logger, "notifications"),
	}
}

// title resolves a session's display title, falling back to its id.
func (h *notificationHooks) title(ctx context.Context, sessionID string) string {
	s, err := h.machine.Get(ctx, sessionID)
	if err != nil || s.Title == "" {
		return sessionID
	}
	return s.Title
}

func (h *notificationHooks) ChunkAbandoned(ctx context.Context, sessionID string, chunkIndex int, cause error) {
	if err := h.notifier.NotifyChunksAbandoned(ctx, h.title(ctx, sessionID), chunkIndex, cause); err != nil {
		h.logger.Warn("delivery warning notification failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
		)
	}
}

func (h *notificationHooks) SessionCompleted(ctx context.Context, sessionID string) {
	if err := h.notifier.NotifySessionCompleted(ctx, h.title(ctx, sessionID)); err != nil {
		h.logger.Warn("completion notification failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
		)
	}
}

func (h *notificationHooks) ProcessingFailed(ctx context.Context, sessionID string, cause error) {
	if err := h.notifier.NotifyProcessingFailed(ctx, h.title(ctx, sessionID), cause); err != nil {
		h.logger.Warn("failure notification failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
		)
	}
}
