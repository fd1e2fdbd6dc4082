package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/desertthunder/darkroom/internal/services"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/desertthunder/darkroom/internal/tasks"
)

// serverClient talks to the job API of a running 'darkroom serve'.
type serverClient struct {
	baseURL string
	client  *services.RetryClient
}

func (r *Runner) api() *serverClient {
	return &serverClient{
		baseURL: "http://" + r.config.Server.Addr(),
		client: services.NewRetryClient(services.RetryClientOpts{
			Provider:   "darkroom",
			HTTPClient: r.httpClient,
			Logger:     r.logger,
		}),
	}
}

// do sends one request and decodes a 2xx JSON body into out when it is non-nil.
func (c *serverClient) do(ctx context.Context, method, path string, out any) error {
	opts := services.RequestOpts{Method: method}
	if method != http.MethodGet {
		opts.MaxAttempts = 1
	}

	resp, err := c.client.Do(ctx, c.baseURL+path, opts)
	if err != nil {
		return fmt.Errorf("%w: is 'darkroom serve' running at %s? %v", shared.ErrServiceUnavailable, c.baseURL, err)
	}

	if !resp.OK() {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body, &body) == nil && body.Error != "" {
			if resp.StatusCode == http.StatusConflict {
				return fmt.Errorf("%w: %s", shared.ErrJobRunning, body.Error)
			}
			return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, body.Error)
		}
		return resp.Err()
	}

	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func jobPath(kind tasks.JobKind, sessionID int64) string {
	return fmt.Sprintf("/api/sessions/%d/%s", sessionID, kind)
}

func (c *serverClient) Submit(ctx context.Context, kind tasks.JobKind, sessionID int64) (tasks.JobState, error) {
	var state tasks.JobState
	err := c.do(ctx, http.MethodPost, jobPath(kind, sessionID), &state)
	return state, err
}

func (c *serverClient) State(ctx context.Context, kind tasks.JobKind, sessionID int64) (tasks.JobState, error) {
	var state tasks.JobState
	err := c.do(ctx, http.MethodGet, jobPath(kind, sessionID), &state)
	return state, err
}

// Cancel cancels every job of the session. The import route is used since the server cancels per session.
func (c *serverClient) Cancel(ctx context.Context, sessionID int64) error {
	return c.do(ctx, http.MethodDelete, jobPath(tasks.KindImport, sessionID), nil)
}

func (c *serverClient) Summary(ctx context.Context) (tasks.Summary, error) {
	var summary tasks.Summary
	err := c.do(ctx, http.MethodGet, "/api/jobs", &summary)
	return summary, err
}
