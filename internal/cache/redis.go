package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/model"
)

const defaultKeyPrefix = "artifact:"

// Redis stores entries as JSON with a native key expiry, so entries survive
// restarts and are shared between replicas.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedis creates a redis backed cache. An empty prefix uses "artifact:".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Redis) key(fingerprint string) string {
	return r.prefix + fingerprint
}

// Get returns the artifact URL for fingerprint if present and fresh
func (r *Redis) Get(ctx context.Context, fingerprint string) (string, bool) {
	entry, ok := r.GetEntry(ctx, fingerprint)
	return entry.ArtifactURL, ok
}

// Put stores or replaces the entry for fingerprint
func (r *Redis) Put(ctx context.Context, fingerprint, artifactURL string) {
	r.PutEntry(ctx, model.CacheEntry{Fingerprint: fingerprint, ArtifactURL: artifactURL})
}

func (r *Redis) GetEntry(ctx context.Context, fingerprint string) (model.CacheEntry, bool) {
	data, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("artifact cache read failed")
		}
		return model.CacheEntry{}, false
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("dropping unreadable artifact entry")
		r.client.Del(ctx, r.key(fingerprint))
		return model.CacheEntry{}, false
	}

	if entry.Expired(r.now(), r.ttl) {
		r.client.Del(ctx, r.key(fingerprint))
		return model.CacheEntry{}, false
	}
	return entry, true
}

// PutEntry stamps the entry with the current time and stores it
func (r *Redis) PutEntry(ctx context.Context, entry model.CacheEntry) {
	entry.CreatedAt = r.now()
	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal artifact entry")
		return
	}

	if err := r.client.Set(ctx, r.key(entry.Fingerprint), data, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("fingerprint", entry.Fingerprint).Msg("artifact cache write failed")
	}
}

// Sweep is a no-op, redis expires keys itself
func (r *Redis) Sweep(_ context.Context) int {
	return 0
}

func (r *Redis) Start() {}

func (r *Redis) Stop() {}
