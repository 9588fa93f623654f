// Package cache stores finished artifact URLs keyed by request fingerprint.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/model"
)

// ArtifactCache maps a content fingerprint to a produced artifact URL. Entries
// older than the cache TTL are never returned. Backend failures are reported
// as a miss, never as an error.
type ArtifactCache interface {
	Get(ctx context.Context, fingerprint string) (string, bool)
	Put(ctx context.Context, fingerprint, artifactURL string)
	// GetEntry and PutEntry carry the provider metadata along with the URL
	GetEntry(ctx context.Context, fingerprint string) (model.CacheEntry, bool)
	PutEntry(ctx context.Context, entry model.CacheEntry)
	// Sweep removes expired entries and returns how many were removed
	Sweep(ctx context.Context) int
	Start()
	Stop()
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options selects and configures a backend
type Options struct {
	Backend       string
	TTL           time.Duration
	Capacity      int
	SweepInterval time.Duration
	Redis         *redis.Client
	KeyPrefix     string
}

// New builds the configured backend. The redis backend falls back to memory
// when no client is given.
func New(opts Options, logger zerolog.Logger) ArtifactCache {
	if opts.Backend == BackendRedis && opts.Redis != nil {
		return NewRedis(opts.Redis, opts.KeyPrefix, opts.TTL, logger)
	}
	if opts.Backend == BackendRedis {
		logger.Warn().Msg("redis cache backend requested without a client, using memory")
	}
	return NewMemory(opts.TTL, opts.Capacity, opts.SweepInterval, logger)
}
