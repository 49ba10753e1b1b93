package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"reel/internal/api"
)

// daemonClient talks to the local reeld HTTP API.
type daemonClient struct {
	http *resty.Client
}

func newDaemonClient(baseURL string) *daemonClient {
	return &daemonClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

func (c *daemonClient) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	resp, err := c.http.R().SetContext(ctx).SetResult(&status).Get("/api/status")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *daemonClient) Sessions(ctx context.Context, statuses ...string) ([]api.SessionView, error) {
	req := c.http.R().SetContext(ctx)
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		req.SetQueryParamsFromValues(values)
	}
	var list api.SessionListResponse
	resp, err := req.SetResult(&list).Get("/api/sessions")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

func (c *daemonClient) Session(ctx context.Context, id string) (*api.SessionView, error) {
	var wrapped api.SessionResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&wrapped).Get("/api/sessions/" + url.PathEscape(id))
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &wrapped.Session, nil
}

func (c *daemonClient) Start(ctx context.Context, title string) (*api.SessionView, error) {
	var wrapped api.SessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(api.StartSessionRequest{Title: title}).
		SetResult(&wrapped).
		Post("/api/sessions")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &wrapped.Session, nil
}

func (c *daemonClient) Stop(ctx context.Context) (*api.SessionView, error) {
	var wrapped api.SessionResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&wrapped).Post("/api/sessions/stop")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &wrapped.Session, nil
}

func (c *daemonClient) Pause(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Post("/api/sessions/pause")
	return c.check(resp, err)
}

func (c *daemonClient) Resume(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Post("/api/sessions/resume")
	return c.check(resp, err)
}

func (c *daemonClient) Retry(ctx context.Context, id string) (*api.SessionView, error) {
	var wrapped api.SessionResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&wrapped).Post("/api/sessions/" + url.PathEscape(id) + "/retry")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &wrapped.Session, nil
}

func (c *daemonClient) Delete(ctx context.Context, id string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/api/sessions/" + url.PathEscape(id))
	return c.check(resp, err)
}

func (c *daemonClient) Tasks(ctx context.Context, id string) ([]api.TaskView, error) {
	var list api.TaskListResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&list).Get("/api/sessions/" + url.PathEscape(id) + "/tasks")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return list.Tasks, nil
}

func (c *daemonClient) TestNotification(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Post("/api/notifications/test")
	return c.check(resp, err)
}

func (c *daemonClient) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("is reeld running? %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	var apiErr api.ErrorResponse
	if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Error != "" {
		return fmt.Errorf("%s", apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}
