package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/config"
	"github.com/punchliner/api/internal/model"
)

// JokeClient fetches jokes from the mxnzp content API
type JokeClient struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	appSecret  string
	logger     zerolog.Logger
}

// mxnzpEnvelope is the common response wrapper; code 1 means success
type mxnzpEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type mxnzpJoke struct {
	Content    string `json:"content"`
	UpdateTime string `json:"updateTime"`
}

type mxnzpPage struct {
	Page       int         `json:"page"`
	TotalCount int         `json:"totalCount"`
	TotalPage  int         `json:"totalPage"`
	Limit      int         `json:"limit"`
	List       []mxnzpJoke `json:"list"`
}

// NewJokeClient creates a new mxnzp client
func NewJokeClient(cfg *config.MxnzpConfig, logger zerolog.Logger) *JokeClient {
	return &JokeClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		logger:    logger.With().Str("component", "mxnzp").Logger(),
	}
}

// Random returns a batch of random jokes. The source has no stable ids, so
// every joke gets a fresh local id.
func (c *JokeClient) Random(ctx context.Context) ([]model.Joke, error) {
	var items []mxnzpJoke
	if err := c.get(ctx, "/jokes/list/random", nil, &items); err != nil {
		return nil, err
	}
	return toJokes(items), nil
}

// Page returns one page of the joke list
func (c *JokeClient) Page(ctx context.Context, page int) (*model.JokePage, error) {
	if page < 1 {
		page = 1
	}
	var p mxnzpPage
	if err := c.get(ctx, "/jokes/list", url.Values{"page": {strconv.Itoa(page)}}, &p); err != nil {
		return nil, err
	}
	return &model.JokePage{
		Page:       p.Page,
		TotalCount: p.TotalCount,
		TotalPage:  p.TotalPage,
		Limit:      p.Limit,
		List:       toJokes(p.List),
	}, nil
}

func toJokes(items []mxnzpJoke) []model.Joke {
	jokes := make([]model.Joke, 0, len(items))
	for _, item := range items {
		jokes = append(jokes, model.Joke{
			ID:         NewJokeID(),
			Content:    item.Content,
			UpdateTime: item.UpdateTime,
		})
	}
	return jokes
}

// NewJokeID returns a short random id for a joke
func NewJokeID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

func (c *JokeClient) get(ctx context.Context, endpoint string, query url.Values, result interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("app_id", c.appID)
	query.Set("app_secret", c.appSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("joke request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("joke API error (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	}

	var env mxnzpEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.Code != 1 {
		return fmt.Errorf("joke API error: %s", env.Msg)
	}

	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to unmarshal joke data: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *JokeClient) IsConfigured() bool {
	return c.appID != "" && c.appSecret != ""
}
