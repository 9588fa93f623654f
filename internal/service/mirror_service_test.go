package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchliner/api/internal/model"
)

func setupMirror(t *testing.T, storage *memStorage) (*MirrorService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewMirrorService(rdb, nil, storage, time.Hour, zerolog.Nop()), mr
}

func videoServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if r.URL.Path == "/missing.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fake-video-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMirror_CopiesAndRecords(t *testing.T) {
	hits := 0
	srv := videoServer(t, &hits)
	storage := newMemStorage()
	svc, mr := setupMirror(t, storage)

	src := srv.URL + "/v.mp4"
	key, err := svc.Mirror(context.Background(), MirrorPayload{Fingerprint: "abc", Kind: model.KindVideo, URL: src})
	require.NoError(t, err)
	assert.Equal(t, "videos/abc.mp4", key)
	assert.Equal(t, []byte("fake-video-bytes"), storage.objects[key])

	got, ok := svc.Lookup(context.Background(), src)
	require.True(t, ok)
	assert.Equal(t, key, got)
	assert.Equal(t, time.Hour, mr.TTL(mirrorRecordKey(src)))

	// a second run reuses the record
	_, err = svc.Mirror(context.Background(), MirrorPayload{Fingerprint: "abc", URL: src})
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestMirror_UpstreamError(t *testing.T) {
	hits := 0
	srv := videoServer(t, &hits)
	svc, _ := setupMirror(t, newMemStorage())

	_, err := svc.Mirror(context.Background(), MirrorPayload{Fingerprint: "abc", URL: srv.URL + "/missing.mp4"})
	assert.Error(t, err)
	_, ok := svc.Lookup(context.Background(), srv.URL+"/missing.mp4")
	assert.False(t, ok)
}

func TestMirror_EnqueueWithoutQueueIsNoop(t *testing.T) {
	svc, _ := setupMirror(t, newMemStorage())
	assert.False(t, svc.IsConfigured())
	assert.NoError(t, svc.Enqueue(context.Background(), model.NewGenerationRequest(model.KindVideo, nil), "https://x"))
}

func TestProxy_VideoPrefersMirror(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte("bytes"))
	}))
	t.Cleanup(srv.Close)

	storage := &signingStorage{memStorage: newMemStorage(), base: srv.URL}
	mirror, mr := setupMirror(t, storage.memStorage)
	src := "https://provider.example.com/v.mp4"
	require.NoError(t, mr.Set(mirrorRecordKey(src), "videos/abc.mp4"))

	proxy := NewProxyService(mirror, storage, zerolog.Nop())
	proxy.now = func() time.Time { return time.UnixMilli(1700000000000) }

	d, err := proxy.Video(context.Background(), src)
	require.NoError(t, err)
	defer d.Body.Close()

	body, _ := io.ReadAll(d.Body)
	assert.Equal(t, "bytes", string(body))
	assert.Equal(t, "punchliner-video-1700000000000.mp4", d.Filename)
	assert.Equal(t, []string{"/videos/abc.mp4"}, paths)
}

func TestProxy_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("img"))
	}))
	t.Cleanup(srv.Close)

	proxy := NewProxyService(nil, nil, zerolog.Nop())
	d, err := proxy.Image(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	defer d.Body.Close()
	assert.Equal(t, "image/jpeg", d.ContentType)
	assert.Contains(t, d.Filename, "punchliner-image-")
}

func TestProxy_RejectsBadURLs(t *testing.T) {
	proxy := NewProxyService(nil, nil, zerolog.Nop())
	for _, u := range []string{"", "file:///etc/passwd", "not a url", "ftp://x/y"} {
		_, err := proxy.Image(context.Background(), u)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestProxy_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	proxy := NewProxyService(nil, nil, zerolog.Nop())
	_, err := proxy.Video(context.Background(), srv.URL+"/v.mp4")
	assert.ErrorIs(t, err, ErrUpstream)
}

// signingStorage signs keys against a local server
type signingStorage struct {
	*memStorage
	base string
}

func (s *signingStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return s.base + "/" + key, nil
}
