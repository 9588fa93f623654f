package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/config"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
)

// PikaClient implements provider.Provider for the Pika video API
type PikaClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// pikaGenerateRequest is the body of a generation submit
type pikaGenerateRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url,omitempty"`
	Model    string `json:"model"`
	Motion   int    `json:"motion"`
}

type pikaGenerateResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// pikaStatusResponse is the body of a generation lookup
type pikaStatusResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Output   []string `json:"output"`
	Progress int      `json:"progress"`
	Error    string   `json:"error"`
}

// NewPikaClient creates a new Pika API client
func NewPikaClient(cfg *config.PikaConfig, logger zerolog.Logger, m *metrics.Metrics) *PikaClient {
	modelName := cfg.Model
	if modelName == "" {
		modelName = "pika-1.0"
	}
	return &PikaClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   modelName,
		logger:  logger.With().Str("component", "pika").Logger(),
		metrics: m,
	}
}

// VideoPrompt turns joke text into the animation prompt
func VideoPrompt(content string) string {
	return fmt.Sprintf("Create a funny cartoon animation of: %s. Cartoon style, humorous, engaging.", content)
}

// Submit starts a video generation
func (c *PikaClient) Submit(ctx context.Context, req model.GenerationRequest) (*model.TaskHandle, error) {
	if !c.IsConfigured() {
		return nil, provider.Rejected(0, "video generation is not configured", nil)
	}

	body := pikaGenerateRequest{
		Prompt:   VideoPrompt(req.Param(model.ParamContent)),
		ImageURL: req.Param(model.ParamImageURL),
		Model:    c.model,
		Motion:   1,
	}

	status, respBody, err := c.post(ctx, "/v1/generations", body)
	if err != nil {
		c.metrics.ProviderRequest("pika", "submit", "error")
		return nil, provider.Rejected(0, "request failed", err)
	}
	if status < 200 || status >= 300 {
		c.metrics.ProviderRequest("pika", "submit", "rejected")
		return nil, provider.Rejected(status, truncate(respBody, 200), nil)
	}

	var result pikaGenerateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.metrics.ProviderRequest("pika", "submit", "rejected")
		return nil, provider.Rejected(status, "malformed response", err)
	}
	id := result.ID
	if id == "" {
		id = result.TaskID
	}
	if id == "" {
		c.metrics.ProviderRequest("pika", "submit", "rejected")
		return nil, provider.Rejected(status, "response carried no task id", nil)
	}

	c.metrics.ProviderRequest("pika", "submit", "ok")
	return &model.TaskHandle{
		TaskID:      id,
		Request:     req,
		SubmittedAt: time.Now(),
	}, nil
}

// FetchStatus looks up a generation by provider id
func (c *PikaClient) FetchStatus(ctx context.Context, taskID string) (*provider.Status, error) {
	status, respBody, err := c.get(ctx, "/v1/generations/"+url.PathEscape(taskID))
	if err != nil {
		c.metrics.ProviderRequest("pika", "status", "transient")
		return nil, provider.Transient(0, "", err)
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		c.metrics.ProviderRequest("pika", "status", "transient")
		return nil, provider.Transient(status, truncate(respBody, 200), nil)
	case status == http.StatusNotFound:
		c.metrics.ProviderRequest("pika", "status", "failed")
		return nil, provider.Failed("generation not found")
	case status < 200 || status >= 300:
		c.metrics.ProviderRequest("pika", "status", "failed")
		return nil, provider.Failed(fmt.Sprintf("status lookup refused (%d)", status))
	}

	var result pikaStatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.metrics.ProviderRequest("pika", "status", "transient")
		return nil, provider.Transient(status, "malformed response", err)
	}

	c.metrics.ProviderRequest("pika", "status", "ok")
	return pikaStatus(&result), nil
}

// pikaStatus normalizes a Pika status body
func pikaStatus(r *pikaStatusResponse) *provider.Status {
	out := &provider.Status{Progress: r.Progress}

	switch strings.ToLower(r.Status) {
	case "queued", "pending":
		out.State = provider.StatusPending
	case "finished", "success", "completed":
		if len(r.Output) == 0 || r.Output[0] == "" {
			out.State = provider.StatusFail
			out.Reason = "generation finished without a video"
			return out
		}
		out.State = provider.StatusSuccess
		out.ResultURL = r.Output[0]
	case "failed", "fail", "error":
		out.State = provider.StatusFail
		out.Reason = r.Error
	default:
		out.State = provider.StatusProcessing
	}
	return out
}

// post sends a POST request with JSON body
func (c *PikaClient) post(ctx context.Context, endpoint string, body interface{}) (int, []byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req)
}

// get sends a GET request
func (c *PikaClient) get(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req)
}

// doRequest executes an HTTP request and returns status and body
func (c *PikaClient) doRequest(req *http.Request) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("→ request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("request failed")
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("url", req.URL.String()).
		Str("body", truncate(respBody, 500)).Msg("← response")

	return resp.StatusCode, respBody, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *PikaClient) IsConfigured() bool {
	return c.apiKey != ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
