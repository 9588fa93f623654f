package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/model"
)

const TaskTypeMirror = "artifact:mirror"

// maxMirrorBytes caps the size of a mirrored artifact
const maxMirrorBytes = 200 << 20

var ErrArtifactTooLarge = errors.New("artifact exceeds mirror size limit")

// MirrorPayload is the payload of an artifact:mirror task
type MirrorPayload struct {
	Fingerprint string     `json:"fingerprint"`
	Kind        model.Kind `json:"kind"`
	URL         string     `json:"url"`
}

// MirrorService copies finished videos from the provider's short lived URLs
// into our own storage. Copies are recorded in redis by source URL.
type MirrorService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	storage     client.StorageClient
	httpClient  *http.Client
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewMirrorService creates the service. ttl bounds how long a mirror record
// is trusted and should match the video cache TTL.
func NewMirrorService(redisClient *redis.Client, asynqClient *asynq.Client, storage client.StorageClient, ttl time.Duration, logger zerolog.Logger) *MirrorService {
	return &MirrorService{
		redis:       redisClient,
		asynqClient: asynqClient,
		storage:     storage,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		ttl:         ttl,
		logger:      logger.With().Str("component", "mirror").Logger(),
	}
}

// IsConfigured reports whether mirroring can run
func (s *MirrorService) IsConfigured() bool {
	return s.redis != nil && s.asynqClient != nil && s.storage != nil
}

// Enqueue schedules a copy of a finished video
func (s *MirrorService) Enqueue(ctx context.Context, req model.GenerationRequest, url string) error {
	if !s.IsConfigured() {
		return nil
	}

	data, err := json.Marshal(MirrorPayload{Fingerprint: req.Fingerprint, Kind: req.Kind, URL: url})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeMirror, data),
		asynq.Queue("mirror"),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Mirror downloads the artifact, stores it and records the copy. Called by
// the worker.
func (s *MirrorService) Mirror(ctx context.Context, p MirrorPayload) (string, error) {
	if key, ok := s.Lookup(ctx, p.URL); ok {
		return key, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download artifact: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes+1))
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	if len(body) > maxMirrorBytes {
		return "", ErrArtifactTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	key := fmt.Sprintf("videos/%s.mp4", p.Fingerprint)
	if _, err := s.storage.Upload(ctx, key, bytes.NewReader(body), contentType); err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, mirrorRecordKey(p.URL), key, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("record mirror: %w", err)
	}

	s.logger.Info().Str("fingerprint", p.Fingerprint).Str("key", key).Int("bytes", len(body)).Msg("artifact mirrored")
	return key, nil
}

// Lookup returns the storage key of a mirrored source URL
func (s *MirrorService) Lookup(ctx context.Context, url string) (string, bool) {
	if s.redis == nil {
		return "", false
	}
	key, err := s.redis.Get(ctx, mirrorRecordKey(url)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("mirror lookup failed")
		}
		return "", false
	}
	return key, true
}

func mirrorRecordKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "mirror:" + hex.EncodeToString(sum[:])
}
