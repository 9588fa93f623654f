package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/service"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[key] = b
	s.mu.Unlock()
	return s.GetPublicURL(key), nil
}

func (s *memStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return s.GetPublicURL(key), nil
}

func (s *memStorage) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func setupWorker(t *testing.T) (*MirrorWorker, *memStorage, *httptest.Server) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v.mp4" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("video"))
	}))
	t.Cleanup(srv.Close)

	storage := &memStorage{objects: make(map[string][]byte)}
	mirror := service.NewMirrorService(rdb, nil, storage, time.Hour, zerolog.Nop())
	return NewMirrorWorker(mirror, zerolog.Nop()), storage, srv
}

func mirrorTask(t *testing.T, p service.MirrorPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(service.TaskTypeMirror, data)
}

func TestMirrorWorker_Process(t *testing.T) {
	w, storage, srv := setupWorker(t)

	err := w.ProcessTask(context.Background(), mirrorTask(t, service.MirrorPayload{
		Fingerprint: "fp1",
		Kind:        model.KindVideo,
		URL:         srv.URL + "/v.mp4",
	}))
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), storage.objects["videos/fp1.mp4"])
}

func TestMirrorWorker_BadPayloadIsNotRetried(t *testing.T) {
	w, _, _ := setupWorker(t)

	err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeMirror, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = w.ProcessTask(context.Background(), mirrorTask(t, service.MirrorPayload{Kind: model.KindVideo}))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestMirrorWorker_DownloadFailureIsRetried(t *testing.T) {
	w, storage, srv := setupWorker(t)

	err := w.ProcessTask(context.Background(), mirrorTask(t, service.MirrorPayload{
		Fingerprint: "fp2",
		Kind:        model.KindVideo,
		URL:         srv.URL + "/gone.mp4",
	}))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, storage.objects)
}
