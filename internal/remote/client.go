package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"reel/internal/config"
	"reel/internal/faults"
	"reel/internal/logging"
)

// Client talks to the processing service. It performs no retries of its own;
// the outbox owns the retry schedule, so every request runs exactly once.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient builds a client from the remote section of the config.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Remote.BaseURL).
		SetTimeout(time.Duration(cfg.Remote.TimeoutSeconds) * time.Second).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Client{
		http:   httpClient,
		logger: logging.NewComponentLogger(logger, "remote"),
	}
}

// Processing verdicts as reported by the service.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type createSessionRequest struct {
	Title  string `json:"title"`
	UserID string `json:"user_id"`
}

// SessionResponse is the service's view of one session.
type SessionResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	UserID      string   `json:"user_id"`
	Status      string   `json:"status"`
	Transcript  string   `json:"transcript"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Error       string   `json:"error"`
}

// Terminal reports whether the service has reached a verdict.
func (r *SessionResponse) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

type uploadResponse struct {
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// CreateSession registers a new session with the service and returns its
// identifier. The identifier doubles as the local session ID so both sides
// agree on naming from the first chunk.
func (c *Client) CreateSession(ctx context.Context, title, userID string) (string, error) {
	var created SessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createSessionRequest{Title: title, UserID: userID}).
		SetResult(&created).
		Post("/sessions")
	if err := c.classify("create session", resp, err); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", faults.Wrap(faults.ErrPermanentDelivery, "remote", "create session", "response carried no session id", nil)
	}
	return created.ID, nil
}

// UploadChunk delivers one finalized chunk file. The service deduplicates on
// (session_id, chunk_index), so re-sending after an ambiguous failure is
// safe.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, path string) error {
	started := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{
			"session_id":  sessionID,
			"chunk_index": strconv.Itoa(chunkIndex),
		}).
		SetResult(&uploadResponse{}).
		Post("/upload")
	if err := c.classify("upload chunk", resp, err); err != nil {
		return err
	}
	c.logger.Debug("chunk uploaded",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int(logging.FieldChunkIndex, chunkIndex),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// GetSession fetches current processing status and any finished result.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	var session SessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&session).
		Get("/sessions/" + sessionID)
	if err := c.classify("get session", resp, err); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session upstream. A 404 counts as success since
// the goal state is reached either way.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/sessions/" + sessionID)
	if err == nil && resp != nil && resp.StatusCode() == 404 {
		return nil
	}
	return c.classify("delete session", resp, err)
}

// classify folds transport errors and HTTP statuses into the fault taxonomy:
// network errors, 5xx and 429 are worth retrying, other non-2xx are not.
func (c *Client) classify(operation string, resp *resty.Response, err error) error {
	if err != nil {
		return faults.Wrap(faults.ErrTransientDelivery, "remote", operation, "request failed", err)
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 429 || code >= 500:
		return faults.Wrap(faults.ErrTransientDelivery, "remote", operation,
			fmt.Sprintf("service returned %d", code), bodyError(resp))
	default:
		return faults.Wrap(faults.ErrPermanentDelivery, "remote", operation,
			fmt.Sprintf("service returned %d", code), bodyError(resp))
	}
}

func bodyError(resp *resty.Response) error {
	body := strings.TrimSpace(resp.String())
	if body == "" {
		return nil
	}
	const limit = 200
	if len(body) > limit {
		body = body[:limit]
	}
	return fmt.Errorf("%s", body)
}
