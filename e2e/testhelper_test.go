package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/config"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/middleware"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
	"github.com/punchliner/api/internal/server"
)

const testJWTSecret = "test-secret-for-e2e"

// Markers in the joke text steer the fake video provider
const (
	failMarker = "[fail]"
	slowMarker = "[slow]"
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	srv    *server.Server
	redis  *miniredis.Miniredis
	video  *videoProvider
	images *atomic.Int32
}

// videoProvider finishes every submitted job on its first poll, except slow
// ones which stay processing until the deadline
type videoProvider struct {
	mu   sync.Mutex
	jobs map[string]model.GenerationRequest
}

func (p *videoProvider) Submit(_ context.Context, req model.GenerationRequest) (*model.TaskHandle, error) {
	id := uuid.NewString()
	p.mu.Lock()
	p.jobs[id] = req
	p.mu.Unlock()
	return &model.TaskHandle{TaskID: id, Request: req, SubmittedAt: time.Now()}, nil
}

func (p *videoProvider) FetchStatus(_ context.Context, taskID string) (*provider.Status, error) {
	p.mu.Lock()
	req, ok := p.jobs[taskID]
	p.mu.Unlock()
	if !ok {
		return nil, provider.Failed("unknown task")
	}
	if strings.Contains(req.Param(model.ParamContent), failMarker) {
		return &provider.Status{State: provider.StatusFail, Reason: "content rejected"}, nil
	}
	if strings.Contains(req.Param(model.ParamContent), slowMarker) {
		return &provider.Status{State: provider.StatusProcessing, Progress: 10}, nil
	}
	return &provider.Status{State: provider.StatusSuccess, ResultURL: "https://video.example.com/" + taskID + ".mp4"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:      "0",
			Env:       "test",
			PublicURL: "https://punchliner.example",
		},
		JWT: config.JWTConfig{
			Secret:   testJWTSecret,
			Required: true,
		},
		// Use very high rate limits so tests don't get blocked
		RateLimit: config.RateLimitConfig{
			GeneratePerHour: 10000,
			AIPerMin:        10000,
			JokesPerMin:     10000,
		},
		Task: config.TaskConfig{
			TickInterval:       10 * time.Millisecond,
			PollInterval:       30 * time.Millisecond,
			Deadline:           5 * time.Second,
			Retention:          time.Minute,
			CancelOnDisconnect: true,
		},
		Cache: config.CacheConfig{
			Backend:       "memory",
			Capacity:      64,
			VideoTTL:      time.Hour,
			ImageTTL:      time.Hour,
			ShareTTL:      time.Hour,
			SweepInterval: time.Minute,
		},
	}
}

// setupApp builds the application the way main.go does, with fake
// generation providers and every external client unconfigured so services
// use their mock fallbacks.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithConfig(t, testConfig())
}

func setupAppWithConfig(t *testing.T, cfg *config.Config) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	video := &videoProvider{jobs: make(map[string]model.GenerationRequest)}
	images := &atomic.Int32{}
	imageGen := provider.GeneratorFunc(func(_ context.Context, req model.GenerationRequest) (*provider.Result, error) {
		images.Add(1)
		return &provider.Result{
			URL:  "https://img.example.com/" + req.Fingerprint[:12] + ".png",
			Meta: map[string]string{"prompt": "a cartoon of " + req.Param(model.ParamContent)},
		}, nil
	})

	srv := server.New(server.Deps{
		Config: cfg,
		Redis:  redisClient,
		Providers: provider.Registry{
			model.KindVideo:     video,
			model.KindImage:     provider.NewSynchronous(imageGen, time.Minute),
			model.KindShareCard: provider.NewSynchronous(imageGen, time.Minute),
		},
		Metrics: metrics.New(),
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(func() { srv.Shutdown(time.Second) })

	return &testApp{app: srv.App, srv: srv, redis: mr, video: video, images: images}
}

// generateToken creates a JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := middleware.NewAuthMiddleware(testJWTSecret, true).GenerateToken("test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseEvents reads a complete server-sent event stream.
func parseEvents(t *testing.T, resp *http.Response) []model.Event {
	t.Helper()
	defer resp.Body.Close()

	var events []model.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("failed to parse event: %v\nline: %s", err, line)
		}
		events = append(events, ev)
	}
	return events
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
