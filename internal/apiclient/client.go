// Package apiclient is a Go client for the Punchliner generation API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/retry"
	"github.com/punchliner/api/pkg/response"
)

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to a Punchliner server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	connect    retry.Policy
}

type Option func(*Client)

// WithToken sends a bearer token on every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client. Its timeout also bounds event
// streams, so leave it unset for long running tasks.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		connect: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.BackoffExponential,
			Base:        200 * time.Millisecond,
			Retryable:   isTransient,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates a task, or returns the cached result when the server has one
func (c *Client) Start(ctx context.Context, req *model.GenerationStartRequest) (*model.GenerationStartResponse, error) {
	var result model.GenerationStartResponse
	if err := c.do(ctx, http.MethodPost, "/api/generations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Get returns the current state of a task
func (c *Client) Get(ctx context.Context, taskID string) (*model.TaskState, error) {
	var state model.TaskState
	if err := c.do(ctx, http.MethodGet, "/api/generations/"+url.PathEscape(taskID), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Cancel stops a running task
func (c *Client) Cancel(ctx context.Context, taskID string) (*model.GenerationCancelResponse, error) {
	var result model.GenerationCancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/generations/"+url.PathEscape(taskID)+"/cancel", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Events opens the event stream of a task. Connection failures and 5xx
// responses are retried.
func (c *Client) Events(ctx context.Context, taskID string) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	var resp *http.Response
	err := retry.Do(ctx, c.connect, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, "/api/generations/"+url.PathEscape(taskID)+"/events", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/event-stream")

		r, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			defer r.Body.Close()
			return decodeError(r)
		}
		resp = r
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return newEventStream(resp.Body, cancel), nil
}

// Launch starts a task and follows it. A cached server result yields a
// single completed event.
func (c *Client) Launch(ctx context.Context, req model.GenerationRequest) (orchestrator.Stream, error) {
	return c.launch(ctx, req, false)
}

// Fresh returns a launcher that always creates a new server-side task
func (c *Client) Fresh() orchestrator.Launcher {
	return orchestrator.LauncherFunc(func(ctx context.Context, req model.GenerationRequest) (orchestrator.Stream, error) {
		return c.launch(ctx, req, true)
	})
}

func (c *Client) launch(ctx context.Context, req model.GenerationRequest, fresh bool) (orchestrator.Stream, error) {
	start := &model.GenerationStartRequest{
		Kind:     req.Kind,
		Content:  req.Param(model.ParamContent),
		Style:    req.Param(model.ParamStyle),
		Link:     req.Param(model.ParamLink),
		ImageURL: req.Param(model.ParamImageURL),
		Retry:    fresh,
	}
	result, err := c.Start(ctx, start)
	if err != nil {
		return nil, err
	}

	if result.Cached {
		return completedStream(model.Event{
			Progress:  100,
			Status:    model.TaskStatusCompleted,
			ResultURL: result.ResultURL,
			Cached:    true,
		}), nil
	}

	return c.Events(ctx, result.TaskID)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: response.CodeServiceError, Message: resp.Status}

	var envelope response.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
