package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/config"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/provider"
	"github.com/punchliner/api/internal/retry"
)

// ZhipuClient handles communication with the Zhipu BigModel API. Chat
// completions back the text actions; image generation backs image and share
// card tasks.
type ZhipuClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chatModel  string
	imageModel string
	imageRetry retry.Policy
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ImageGenerationRequest represents the request body for image generation
type ImageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

// ImageGenerationResponse represents the response from image generation
type ImageGenerationResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// ChatOptions tunes a single completion
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// DefaultChatOptions are used by the text actions
var DefaultChatOptions = ChatOptions{Temperature: 0.8, MaxTokens: 500}

// NewZhipuClient creates a new Zhipu API client
func NewZhipuClient(cfg *config.ZhipuConfig, retryCfg *config.RetryConfig, logger zerolog.Logger, m *metrics.Metrics) *ZhipuClient {
	return &ZhipuClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		imageRetry: retry.Policy{
			MaxAttempts: retryCfg.ImageAttempts,
			Backoff:     retry.BackoffLinear,
			Base:        retryCfg.ImageBackoff,
			Retryable: func(err error) bool {
				return provider.IsKind(err, provider.KindTransient)
			},
		},
		logger:  logger.With().Str("component", "zhipu").Logger(),
		metrics: m,
	}
}

// ChatCompletion sends a single user prompt and returns the reply text
func (c *ZhipuClient) ChatCompletion(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	reqBody := ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	var chatResp ChatCompletionResponse
	if err := c.post(ctx, "chat", "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", provider.Failed("no choices in response")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// GenerateImage renders prompt into a 1024x1024 image and returns its URL.
// Rate limited and unreachable attempts are retried per the image policy.
func (c *ZhipuClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	reqBody := ImageGenerationRequest{
		Model:  c.imageModel,
		Prompt: prompt,
		Size:   "1024x1024",
	}

	var imageURL string
	attempt := 0
	err := retry.Do(ctx, c.imageRetry, func(ctx context.Context) error {
		attempt++
		var imgResp ImageGenerationResponse
		if err := c.post(ctx, "image", "/images/generations", reqBody, &imgResp); err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("image generation attempt failed")
			return err
		}
		if len(imgResp.Data) == 0 || imgResp.Data[0].URL == "" {
			return provider.Failed("image response carried no url")
		}
		imageURL = imgResp.Data[0].URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return imageURL, nil
}

// post sends a JSON request and decodes a JSON response. Failures come back
// as provider errors: 429, 5xx and network failures are Transient, other
// non-2xx statuses SubmissionRejected.
func (c *ZhipuClient) post(ctx context.Context, op, endpoint string, body interface{}, result interface{}) error {
	if !c.IsConfigured() {
		return provider.Rejected(0, "zhipu API key is not configured", nil)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ProviderRequest("zhipu", op, "transient")
		return provider.Transient(0, "", fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ProviderRequest("zhipu", op, "transient")
		return provider.Transient(resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.ProviderRequest("zhipu", op, "transient")
		return provider.Transient(resp.StatusCode, truncate(respBody, 200), nil)
	case resp.StatusCode != http.StatusOK:
		c.metrics.ProviderRequest("zhipu", op, "rejected")
		return provider.Rejected(resp.StatusCode, truncate(respBody, 200), nil)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		c.metrics.ProviderRequest("zhipu", op, "failed")
		return provider.Failed(fmt.Sprintf("failed to unmarshal response: %v", err))
	}

	c.metrics.ProviderRequest("zhipu", op, "ok")
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ZhipuClient) IsConfigured() bool {
	return c.apiKey != ""
}
