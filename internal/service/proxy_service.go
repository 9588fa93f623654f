package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/client"
)

var (
	ErrInvalidURL = errors.New("invalid url")
	ErrUpstream   = errors.New("upstream fetch failed")
)

// Download is an open remote file ready to be streamed to a client
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

// ProxyService streams generated artifacts back to clients with a download
// filename, so browsers save instead of navigating.
type ProxyService struct {
	httpClient *http.Client
	mirror     *MirrorService
	storage    client.StorageClient
	logger     zerolog.Logger
	now        func() time.Time
}

func NewProxyService(mirror *MirrorService, storage client.StorageClient, logger zerolog.Logger) *ProxyService {
	return &ProxyService{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		mirror:     mirror,
		storage:    storage,
		logger:     logger.With().Str("component", "proxy").Logger(),
		now:        time.Now,
	}
}

// Video opens a video, preferring our mirrored copy
func (s *ProxyService) Video(ctx context.Context, rawURL string) (*Download, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}

	source := rawURL
	if s.mirror != nil && s.storage != nil {
		if key, ok := s.mirror.Lookup(ctx, rawURL); ok {
			signed, err := s.storage.GetSignedURL(ctx, key, 15*time.Minute)
			if err == nil {
				source = signed
			} else {
				s.logger.Warn().Err(err).Str("key", key).Msg("mirror url failed, using source")
			}
		}
	}

	d, err := s.open(ctx, source, "video/mp4")
	if err != nil {
		return nil, err
	}
	d.Filename = fmt.Sprintf("punchliner-video-%d.mp4", s.now().UnixMilli())
	return d, nil
}

// Image opens an image
func (s *ProxyService) Image(ctx context.Context, rawURL string) (*Download, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}

	d, err := s.open(ctx, rawURL, "image/png")
	if err != nil {
		return nil, err
	}
	d.Filename = fmt.Sprintf("punchliner-image-%d.png", s.now().UnixMilli())
	return d, nil
}

func (s *ProxyService) open(ctx context.Context, source, fallbackType string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = fallbackType
	}

	return &Download{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}
