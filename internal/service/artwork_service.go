package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/share"
)

// ArtworkService produces joke pictures and share cards. Both go through the
// orchestrator, so identical requests are served from the artifact cache.
type ArtworkService struct {
	orchestrator *orchestrator.Orchestrator
	storage      client.StorageClient
	publicURL    string
	logger       zerolog.Logger
}

// NewArtworkService creates the service. storage may be nil, in which case
// QR codes are inlined as data URLs.
func NewArtworkService(orch *orchestrator.Orchestrator, storage client.StorageClient, publicURL string, logger zerolog.Logger) *ArtworkService {
	return &ArtworkService{
		orchestrator: orch,
		storage:      storage,
		publicURL:    publicURL,
		logger:       logger.With().Str("component", "artwork").Logger(),
	}
}

// Image generates or recalls the picture for a joke
func (s *ArtworkService) Image(ctx context.Context, req *model.ImageRequest) (*model.ImageResponse, error) {
	params := map[string]string{model.ParamContent: req.Content}
	if req.Style != "" {
		params[model.ParamStyle] = req.Style
	}

	res, err := s.orchestrator.RequestArtifact(ctx, model.NewGenerationRequest(model.KindImage, params), nil)
	if err != nil {
		return nil, err
	}

	return &model.ImageResponse{
		URL:    res.URL,
		Prompt: res.Meta[MetaPrompt],
		Cached: res.Cached,
	}, nil
}

// ShareImage builds a share card: the joke picture plus a QR code of the
// share link. A failed QR step degrades to the picture alone.
func (s *ArtworkService) ShareImage(ctx context.Context, req *model.ShareImageRequest) (*model.ShareImageResponse, error) {
	shareURL := req.URL
	if shareURL == "" && req.ID != "" && req.UpdateTime != "" {
		link, err := share.Link(s.publicURL, req.ID, share.Params{Content: req.Content, UpdateTime: req.UpdateTime})
		if err != nil {
			return nil, err
		}
		shareURL = link
	}

	params := map[string]string{model.ParamContent: req.Content}
	if shareURL != "" {
		params[model.ParamLink] = shareURL
	}
	greq := model.NewGenerationRequest(model.KindShareCard, params)

	var (
		res    *orchestrator.Result
		qrCode string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = s.orchestrator.RequestArtifact(gctx, greq, nil)
		return err
	})
	g.Go(func() error {
		url, err := s.qrCode(gctx, shareURL)
		if err != nil {
			s.logger.Warn().Err(err).Msg("qr code failed, delivering image only")
			return nil
		}
		qrCode = url
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.ShareImageResponse{
		ImageURL:  res.URL,
		QRCodeURL: qrCode,
		ShareURL:  shareURL,
		Prompt:    res.Meta[MetaPrompt],
		Cached:    res.Cached,
	}, nil
}

// DecodeShare unpacks the data parameter of a share link
func (s *ArtworkService) DecodeShare(data string) (*share.Params, error) {
	return share.Decode(data)
}

// qrCode renders the link and stores it when storage is available. The
// object key is content addressed, so repeated cards reuse one object.
func (s *ArtworkService) qrCode(ctx context.Context, link string) (string, error) {
	png, err := share.QRCode(link)
	if err != nil {
		return "", err
	}
	if s.storage == nil {
		return share.DataURL(png), nil
	}

	sum := sha256.Sum256(png)
	key := fmt.Sprintf("share/qr/%s.png", hex.EncodeToString(sum[:12]))
	url, err := s.storage.Upload(ctx, key, bytes.NewReader(png), "image/png")
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("qr upload failed, inlining")
		return share.DataURL(png), nil
	}
	return url, nil
}
