package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
)

// MetaPrompt is the result metadata key holding the image description
const MetaPrompt = "prompt"

// ImageGenerator draws the picture for image and share card tasks: the chat
// model describes the scene, the image model renders it.
type ImageGenerator struct {
	ai    *AIService
	zhipu *client.ZhipuClient
}

func NewImageGenerator(ai *AIService, zhipu *client.ZhipuClient) *ImageGenerator {
	return &ImageGenerator{ai: ai, zhipu: zhipu}
}

// Generate implements provider.Generator
func (g *ImageGenerator) Generate(ctx context.Context, req model.GenerationRequest) (*provider.Result, error) {
	style := ""
	if req.Kind == model.KindImage {
		style = req.Param(model.ParamStyle)
	}

	prompt, err := g.ai.ImagePrompt(ctx, req.Param(model.ParamContent), style)
	if err != nil {
		return nil, fmt.Errorf("describe image: %w", err)
	}

	if g.zhipu == nil || !g.zhipu.IsConfigured() {
		return &provider.Result{
			URL:  mockImageURL(req.Fingerprint),
			Meta: map[string]string{MetaPrompt: prompt},
		}, nil
	}

	imageURL, err := g.zhipu.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return &provider.Result{
		URL:  imageURL,
		Meta: map[string]string{MetaPrompt: prompt},
	}, nil
}

func mockImageURL(fingerprint string) string {
	if len(fingerprint) > 8 {
		fingerprint = fingerprint[:8]
	}
	return "https://placehold.co/1024x1024/png?text=" + url.QueryEscape("punchliner "+fingerprint)
}
