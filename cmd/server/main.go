package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/config"
	"github.com/punchliner/api/internal/logger"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/server"
	"github.com/punchliner/api/internal/service"
	"github.com/punchliner/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("production", "info")
		l.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// R2 is optional: without it QR codes are inlined and videos are not mirrored
	var storage client.StorageClient
	if r2Client, err := client.NewR2Client(&cfg.R2); err != nil {
		log.Warn().Err(err).Msg("R2 storage disabled")
	} else {
		storage = r2Client
	}

	srv := server.New(server.Deps{
		Config:    cfg,
		Redis:     redisClient,
		Asynq:     asynqClient,
		Storage:   storage,
		Metrics:   metrics.New(),
		Logger:    log,
		AccessLog: true,
	})

	// Start Asynq worker server
	if srv.Mirror.IsConfigured() && cfg.Mirror.Enabled {
		go startWorkerServer(cfg, srv.Mirror, log)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := srv.Shutdown(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := srv.App.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func startWorkerServer(cfg *config.Config, mirror *service.MirrorService, log zerolog.Logger) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"mirror": 1,
			},
		},
	)

	mirrorWorker := worker.NewMirrorWorker(mirror, logger.Component(log, "mirror_worker"))

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeMirror, mirrorWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Error().Err(err).Msg("asynq worker error")
	}
}
