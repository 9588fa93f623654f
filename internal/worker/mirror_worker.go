package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/service"
)

// MirrorWorker copies finished videos into our storage
type MirrorWorker struct {
	mirror *service.MirrorService
	logger zerolog.Logger
}

// NewMirrorWorker creates a new mirror worker
func NewMirrorWorker(mirror *service.MirrorService, logger zerolog.Logger) *MirrorWorker {
	return &MirrorWorker{
		mirror: mirror,
		logger: logger,
	}
}

// ProcessTask handles artifact:mirror tasks. Payload and size errors are not
// retried; download and storage errors are.
func (w *MirrorWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.MirrorPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.URL == "" || payload.Fingerprint == "" {
		return fmt.Errorf("incomplete mirror payload: %w", asynq.SkipRetry)
	}

	logger := w.logger.With().Str("fingerprint", payload.Fingerprint).Logger()
	logger.Debug().Msg("starting mirror")

	key, err := w.mirror.Mirror(ctx, payload)
	if err != nil {
		if errors.Is(err, service.ErrArtifactTooLarge) {
			logger.Warn().Err(err).Msg("mirror skipped")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Warn().Err(err).Msg("mirror failed")
		return err
	}

	logger.Info().Str("key", key).Msg("mirror complete")
	return nil
}
