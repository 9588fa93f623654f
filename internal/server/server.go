// Package server assembles the HTTP application from configuration.
package server

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/cache"
	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/config"
	"github.com/punchliner/api/internal/handler"
	"github.com/punchliner/api/internal/hub"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/middleware"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/provider"
	"github.com/punchliner/api/internal/service"
	"github.com/punchliner/api/internal/task"
	"github.com/punchliner/api/pkg/response"
)

// Deps are the external resources the server runs on. Nil Redis, Asynq or
// Storage switch the dependent features to their fallbacks. Providers
// overrides the provider registry built from configuration.
type Deps struct {
	Config    *config.Config
	Redis     *redis.Client
	Asynq     *asynq.Client
	Storage   client.StorageClient
	Providers provider.Registry
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	// AccessLog enables the request log line per request
	AccessLog bool
	// Heartbeat overrides the SSE keep-alive interval
	Heartbeat time.Duration
}

// Server is the assembled application
type Server struct {
	App          *fiber.App
	Hub          *hub.Hub
	Manager      *task.Manager
	Orchestrator *orchestrator.Orchestrator
	Mirror       *service.MirrorService

	caches []cache.ArtifactCache
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New builds the services, handlers and routes and starts the background
// loops. Call Shutdown to stop them.
func New(d Deps) *Server {
	cfg := d.Config
	logger := d.Logger
	ctx, cancel := context.WithCancel(context.Background())

	// Hub
	h := hub.New(logger, d.Metrics)
	go h.Run(ctx)

	// Clients
	zhipuClient := client.NewZhipuClient(&cfg.Zhipu, &cfg.Retry, logger, d.Metrics)
	pikaClient := client.NewPikaClient(&cfg.Pika, logger, d.Metrics)
	jokeClient := client.NewJokeClient(&cfg.Mxnzp, logger)

	aiService := service.NewAIService(zhipuClient, logger)
	imageGenerator := service.NewImageGenerator(aiService, zhipuClient)

	providers := d.Providers
	if providers == nil {
		providers = provider.Registry{
			model.KindVideo:     pikaClient,
			model.KindImage:     provider.NewSynchronous(imageGenerator, cfg.Task.Retention),
			model.KindShareCard: provider.NewSynchronous(imageGenerator, cfg.Task.Retention),
		}
	}

	// Task lifecycle
	manager := task.NewManager(providers, h, task.Options{
		Timing: task.Timing{
			TickInterval: cfg.Task.TickInterval,
			PollInterval: cfg.Task.PollInterval,
			Deadline:     cfg.Task.Deadline,
		},
		Retention: cfg.Task.Retention,
	}, logger, d.Metrics)

	if cfg.Task.CancelOnDisconnect {
		h.OnIdle(func(taskID string) {
			if _, err := manager.Cancel(taskID); err == nil {
				logger.Info().Str("taskId", taskID).Msg("cancelled abandoned task")
			}
		})
	}

	// Artifact caches
	caches := map[model.Kind]cache.ArtifactCache{
		model.KindVideo:     newCache(cfg, d.Redis, "video", cfg.Cache.VideoTTL, logger),
		model.KindImage:     newCache(cfg, d.Redis, "image", cfg.Cache.ImageTTL, logger),
		model.KindShareCard: newCache(cfg, d.Redis, "share", cfg.Cache.ShareTTL, logger),
	}
	all := make([]cache.ArtifactCache, 0, len(caches))
	for _, c := range caches {
		c.Start()
		all = append(all, c)
	}

	orch := orchestrator.New(caches, orchestrator.LauncherFunc(func(ctx context.Context, req model.GenerationRequest) (orchestrator.Stream, error) {
		sub, err := manager.Launch(ctx, req)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}), logger, d.Metrics)

	mirrorService := service.NewMirrorService(d.Redis, d.Asynq, d.Storage, cfg.Cache.VideoTTL, logger)

	// Finished server-side tasks feed the cache and the video mirror
	manager.OnTerminal(func(req model.GenerationRequest, state model.TaskState) {
		if state.Status != model.TaskStatusCompleted || state.ResultURL == "" {
			return
		}
		if err := orch.Remember(ctx, req, state.ResultURL, state.Meta); err != nil {
			logger.Debug().Err(err).Str("kind", string(req.Kind)).Msg("result not cached")
		}
		if req.Kind == model.KindVideo && cfg.Mirror.Enabled {
			if err := mirrorService.Enqueue(ctx, req, state.ResultURL); err != nil {
				logger.Warn().Err(err).Str("taskId", state.TaskID).Msg("failed to enqueue mirror")
			}
		}
	})

	// Services
	validate := validator.New()
	generationService := service.NewGenerationService(manager, orch, h)
	artworkService := service.NewArtworkService(orch, d.Storage, cfg.Server.PublicURL, logger)
	jokeService := service.NewJokeService(jokeClient)
	proxyService := service.NewProxyService(mirrorService, d.Storage, logger)

	// Handlers
	generationHandler := handler.NewGenerationHandler(generationService, h, validate, d.Heartbeat, logger)
	aiHandler := handler.NewAIHandler(aiService, artworkService, validate)
	jokeHandler := handler.NewJokeHandler(jokeService, aiService)
	shareHandler := handler.NewShareHandler(artworkService, proxyService)
	healthHandler := handler.NewHealthHandler(d.Redis, map[string]func() bool{
		"zhipu":  aiService.IsConfigured,
		"pika":   pikaClient.IsConfigured,
		"mxnzp":  jokeClient.IsConfigured,
		"r2":     func() bool { return d.Storage != nil },
		"mirror": func() bool { return cfg.Mirror.Enabled && mirrorService.IsConfigured() },
	}, manager.Active)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Required)
	if cfg.JWT.JWKSURL != "" {
		// ctx also ends the key set refresh
		if err := authMiddleware.WithJWKS(ctx, cfg.JWT.JWKSURL, cfg.JWT.Audience); err != nil {
			logger.Error().Err(err).Msg("JWKS unavailable, only HMAC tokens accepted")
		}
	}
	rateLimiter := middleware.NewRateLimiter(d.Redis, logger)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024, // 1MB
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Check)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	api := app.Group("/api", authMiddleware.Authenticate())

	// Generation tasks
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Start)
	generations.Post("/stream", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Stream)
	generations.Get("/:taskId", generationHandler.Get)
	generations.Get("/:taskId/events", generationHandler.Events)
	generations.Post("/:taskId/cancel", generationHandler.Cancel)

	// AI text and artwork
	ai := api.Group("/ai", rateLimiter.AILimit(cfg.RateLimit.AIPerMin))
	ai.Post("/generate", aiHandler.Generate)
	ai.Post("/image", aiHandler.Image)
	ai.Post("/share-image", aiHandler.ShareImage)
	ai.Post("/similar-cold", aiHandler.SimilarCold)

	// Jokes
	jokes := api.Group("/jokes", rateLimiter.JokesLimit(cfg.RateLimit.JokesPerMin))
	jokes.Get("/random", jokeHandler.Random)
	jokes.Get("/list", jokeHandler.List)
	jokes.Get("/cold", jokeHandler.Cold)
	jokes.Get("/cold/list", jokeHandler.ColdList)

	// Sharing and downloads
	api.Get("/share/decode", shareHandler.Decode)
	api.Get("/proxy/video", shareHandler.ProxyVideo)
	api.Get("/proxy/image", shareHandler.ProxyImage)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/generations/:taskId", generationHandler.WebSocket())

	return &Server{
		App:          app,
		Hub:          h,
		Manager:      manager,
		Orchestrator: orch,
		Mirror:       mirrorService,
		caches:       all,
		cancel:       cancel,
		logger:       logger,
	}
}

// Shutdown stops accepting requests, cancels running tasks and stops the
// background loops
func (s *Server) Shutdown(timeout time.Duration) error {
	err := s.App.ShutdownWithTimeout(timeout)
	s.Manager.Close()
	for _, c := range s.caches {
		c.Stop()
	}
	s.cancel()
	return err
}

func newCache(cfg *config.Config, redisClient *redis.Client, name string, ttl time.Duration, logger zerolog.Logger) cache.ArtifactCache {
	return cache.New(cache.Options{
		Backend:       cfg.Cache.Backend,
		TTL:           ttl,
		Capacity:      cfg.Cache.Capacity,
		SweepInterval: cfg.Cache.SweepInterval,
		Redis:         redisClient,
		KeyPrefix:     "artifact:" + name + ":",
	}, logger.With().Str("cache", name).Logger())
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
