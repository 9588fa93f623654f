package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/punchliner/api/internal/service"
	"github.com/punchliner/api/pkg/response"
)

type ShareHandler struct {
	artwork *service.ArtworkService
	proxy   *service.ProxyService
}

func NewShareHandler(artwork *service.ArtworkService, proxy *service.ProxyService) *ShareHandler {
	return &ShareHandler{
		artwork: artwork,
		proxy:   proxy,
	}
}

// Decode handles GET /api/share/decode?data=
func (h *ShareHandler) Decode(c *fiber.Ctx) error {
	data := c.Query("data")
	if data == "" {
		return response.ValidationError(c, "data is required", nil)
	}

	params, err := h.artwork.DecodeShare(data)
	if err != nil {
		return response.ValidationError(c, "Invalid share data", nil)
	}
	return response.OK(c, params)
}

// ProxyVideo handles GET /api/proxy/video?url=
func (h *ShareHandler) ProxyVideo(c *fiber.Ctx) error {
	d, err := h.proxy.Video(c.Context(), c.Query("url"))
	return h.sendDownload(c, d, err)
}

// ProxyImage handles GET /api/proxy/image?url=
func (h *ShareHandler) ProxyImage(c *fiber.Ctx) error {
	d, err := h.proxy.Image(c.Context(), c.Query("url"))
	return h.sendDownload(c, d, err)
}

func (h *ShareHandler) sendDownload(c *fiber.Ctx, d *service.Download, err error) error {
	if err != nil {
		if errors.Is(err, service.ErrInvalidURL) {
			return response.ValidationError(c, "url must be an absolute http(s) URL", nil)
		}
		return response.Error(c, fiber.StatusBadGateway, response.CodeServiceError, err.Error(), nil)
	}

	c.Set(fiber.HeaderContentType, d.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, d.Filename))
	size := -1
	if d.ContentLength > 0 {
		size = int(d.ContentLength)
	}
	return c.SendStream(d.Body, size)
}
